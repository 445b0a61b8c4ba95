package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/anoner9000/ClawDawg/internal/config"
	"github.com/anoner9000/ClawDawg/internal/doctor"
)

func runDoctorCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	var cfgPtr *config.Config
	cfg, err := config.Load()
	if err == nil {
		cfgPtr = &cfg
	}
	diag := doctor.Run(ctx, cfgPtr, err, Version)

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(stderr, "Error encoding json: %v\n", err)
			return 1
		}
		if diag.Failed() {
			return 1
		}
		return 0
	}

	fmt.Fprintf(stdout, "ClawDawg Doctor Report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(stdout, "System: %s/%s (%s) %s\n", diag.System.OS, diag.System.Arch, diag.System.Go, diag.System.Version)
	fmt.Fprintln(stdout, "---")

	for _, res := range diag.Results {
		icon := "✅"
		switch res.Status {
		case doctor.StatusFail:
			icon = "❌"
		case doctor.StatusWarn:
			icon = "⚠️ "
		case doctor.StatusSkip:
			icon = "⏩"
		}
		fmt.Fprintf(stdout, "%s %-15s: %s\n", icon, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Fprintf(stdout, "    %s\n", res.Detail)
		}
	}

	if diag.Failed() {
		return 1
	}
	return 0
}
