package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/anoner9000/ClawDawg/internal/config"
	"github.com/anoner9000/ClawDawg/internal/schema"
)

// Validate exit codes.
const (
	validateOK          = 0
	validateInvalid     = 1
	validateIOError     = 2
	validateSchemaError = 3
)

// runValidateCommand checks each bus line against the team_bus.v1.1 schema.
// It needs no home directory, so it skips the shared setup.
func runValidateCommand(_ context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("validate", stderr)
	schemaPath := fs.String("schema", "", "JSON Schema file (default: embedded team_bus.v1.1)")
	cleanOut := fs.String("clean-out", "", "write only valid lines to this file")
	maxErrors := fs.Int("max-errors", schema.DefaultMaxErrors, "stop after this many invalid lines")
	quiet := fs.Bool("quiet", false, "suppress per-line errors")
	if err := fs.Parse(args); err != nil {
		return validateIOError
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: clawdawg validate [--schema P] [--clean-out P] [--max-errors N] [--quiet] BUS")
		return validateIOError
	}
	busPath := config.ExpandHome(fs.Arg(0))

	v, code := loadValidator(*schemaPath, stderr)
	if v == nil {
		return code
	}

	opts := schema.Options{MaxErrors: *maxErrors}
	if !*quiet {
		opts.OnInvalid = func(line int, msg string) {
			fmt.Fprintf(stderr, "Line %d: %s\n", line, msg)
		}
	}

	var clean *os.File
	var cleanBuf *bufio.Writer
	if *cleanOut != "" {
		f, err := os.Create(config.ExpandHome(*cleanOut))
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return validateIOError
		}
		clean = f
		cleanBuf = bufio.NewWriter(f)
		opts.CleanOut = cleanBuf
	}

	rep, err := v.ValidateFile(busPath, opts)
	if clean != nil {
		if ferr := cleanBuf.Flush(); ferr != nil && err == nil {
			err = ferr
		}
		if cerr := clean.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return validateIOError
	}

	summary := fmt.Sprintf("team_bus validation: file=%s events=%d valid=%d invalid=%d", busPath, rep.Events, rep.Valid, rep.Invalid)
	if *cleanOut != "" {
		summary += " clean_out=" + *cleanOut
	}
	fmt.Fprintln(stdout, summary)
	if rep.Truncated && !*quiet {
		fmt.Fprintf(stderr, "stopped after %d invalid lines\n", rep.Invalid)
	}
	if rep.Invalid > 0 {
		return validateInvalid
	}
	return validateOK
}

func loadValidator(path string, stderr io.Writer) (*schema.Validator, int) {
	if path == "" {
		v, err := schema.New()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: schema: %v\n", err)
			return nil, validateSchemaError
		}
		return v, validateOK
	}
	raw, err := os.ReadFile(config.ExpandHome(path))
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return nil, validateIOError
	}
	v, err := schema.Compile(raw)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: schema: %v\n", err)
		return nil, validateSchemaError
	}
	return v, validateOK
}
