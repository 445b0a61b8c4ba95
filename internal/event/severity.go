package event

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Severity levels a RISK record may carry.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var knownSeverities = map[string]struct{}{
	SeverityLow:      {},
	SeverityMedium:   {},
	SeverityHigh:     {},
	SeverityCritical: {},
}

var (
	// ErrEmptySeveritySet is returned when a severity list has no entries.
	ErrEmptySeveritySet = errors.New("empty severity set")
	// ErrUnknownSeverity is returned for values outside low|medium|high|critical.
	ErrUnknownSeverity = errors.New("unknown severity")
)

// SeveritySet is a set of severities. Matching is exact: values are
// lowercase and compared after trimming whitespace only.
type SeveritySet map[string]struct{}

// DefaultDenySeverities is the set used when nothing is configured.
func DefaultDenySeverities() SeveritySet {
	return SeveritySet{SeverityHigh: {}, SeverityCritical: {}}
}

// ParseSeverities parses a comma-separated list such as "high,critical".
func ParseSeverities(raw string) (SeveritySet, error) {
	return NewSeveritySet(strings.Split(raw, ","))
}

// NewSeveritySet validates and collects the given values. Blank entries are
// dropped; anything left that is not a known lowercase level is an error.
func NewSeveritySet(values []string) (SeveritySet, error) {
	set := SeveritySet{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := knownSeverities[v]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSeverity, v)
		}
		set[v] = struct{}{}
	}
	if len(set) == 0 {
		return nil, ErrEmptySeveritySet
	}
	return set, nil
}

// Contains reports whether sev (trimmed) is in the set.
func (s SeveritySet) Contains(sev string) bool {
	_, ok := s[strings.TrimSpace(sev)]
	return ok
}

// Sorted returns the members in lexical order.
func (s SeveritySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s SeveritySet) String() string {
	return strings.Join(s.Sorted(), ",")
}

// KnownSeverity reports whether v is one of the four levels.
func KnownSeverity(v string) bool {
	_, ok := knownSeverities[v]
	return ok
}
