package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anoner9000/ClawDawg/internal/event"
)

// OTelConfig mirrors the otel block of config.yaml.
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// BusPath is the team bus JSONL file.
	BusPath  string `yaml:"bus_path"`
	LogLevel string `yaml:"log_level"`

	// DenyRiskSeverity is used by the gate, the inspector and the dashboard.
	DenyRiskSeverity []string `yaml:"deny_risk_severity"`
	// BlockSeverity is used by the auto-block sweep.
	BlockSeverity []string `yaml:"block_severity"`

	SweepSchedule   string `yaml:"sweep_schedule"`
	WatchDebounceMS int    `yaml:"watch_debounce_ms"`

	// AuditDB is an optional SQLite file that mirrors the audit log.
	AuditDB string `yaml:"audit_db"`

	OTel OTelConfig `yaml:"otel"`

	// Loaded reports whether config.yaml existed.
	Loaded bool `yaml:"-"`

	denySet  event.SeveritySet
	blockSet event.SeveritySet
}

// DenySet is the parsed DenyRiskSeverity.
func (c Config) DenySet() event.SeveritySet {
	if c.denySet == nil {
		return event.DefaultDenySeverities()
	}
	return c.denySet
}

// BlockSet is the parsed BlockSeverity.
func (c Config) BlockSet() event.SeveritySet {
	if c.blockSet == nil {
		return event.DefaultDenySeverities()
	}
	return c.blockSet
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// DefaultBusPath is where agents append unless told otherwise.
func DefaultBusPath(homeDir string) string {
	return filepath.Join(homeDir, "runtime", "logs", "team_bus.jsonl")
}

// Fingerprint returns a stable hash of the settings that affect decisions.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bus=%s|deny=%s|block=%s|schedule=%s",
		c.BusPath, c.DenySet(), c.BlockSet(), c.SweepSchedule)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel:         "info",
		DenyRiskSeverity: []string{event.SeverityHigh, event.SeverityCritical},
		BlockSeverity:    []string{event.SeverityHigh, event.SeverityCritical},
		SweepSchedule:    "*/5 * * * *",
		WatchDebounceMS:  500,
	}
}

func HomeDir() string {
	if override := os.Getenv("CLAWDAWG_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".openclaw")
}

// Load reads <home>/config.yaml, applies env overrides and validates the
// severity lists. A missing file is not an error.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else {
		cfg.Loaded = true
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config.yaml: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.BusPath) == "" {
		cfg.BusPath = DefaultBusPath(cfg.HomeDir)
	}
	cfg.BusPath = ExpandHome(cfg.BusPath)
	if cfg.AuditDB != "" {
		cfg.AuditDB = ExpandHome(cfg.AuditDB)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.SweepSchedule) == "" {
		cfg.SweepSchedule = "*/5 * * * *"
	}
	if cfg.WatchDebounceMS <= 0 {
		cfg.WatchDebounceMS = 500
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "clawdawg"
	}
}

func validate(cfg *Config) error {
	deny, err := event.NewSeveritySet(cfg.DenyRiskSeverity)
	if err != nil {
		return fmt.Errorf("deny_risk_severity: %w", err)
	}
	block, err := event.NewSeveritySet(cfg.BlockSeverity)
	if err != nil {
		return fmt.Errorf("block_severity: %w", err)
	}
	cfg.denySet = deny
	cfg.blockSet = block
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("CLAWDAWG_BUS"); raw != "" {
		cfg.BusPath = raw
	}
	if raw := os.Getenv("CLAWDAWG_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("CLAWDAWG_SWEEP_SCHEDULE"); raw != "" {
		cfg.SweepSchedule = raw
	}
	if raw := os.Getenv("CLAWDAWG_AUDIT_DB"); raw != "" {
		cfg.AuditDB = raw
	}
	if raw := os.Getenv("CLAWDAWG_WATCH_DEBOUNCE_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.WatchDebounceMS = v
		}
	}
}

// ExpandHome resolves a leading "~/" the way the shell tooling does.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
