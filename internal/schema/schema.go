// Package schema validates team bus files against the team_bus.v1.1 JSON
// Schema.
package schema

import (
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed team_bus.v1.1.schema.json
var embeddedSchema []byte

const resourceName = "team_bus.v1.1.schema.json"

// DefaultMaxErrors is the number of invalid lines after which a file
// validation stops.
const DefaultMaxErrors = 200

// Validator checks individual bus lines.
type Validator struct {
	schema *jsonschema.Schema
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	return Compile(embeddedSchema)
}

// Embedded returns the raw embedded schema document.
func Embedded() []byte {
	return bytes.Clone(embeddedSchema)
}

// Compile builds a Validator from a schema document.
func Compile(raw []byte) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// ValidateLine returns the problems with one line, or nil when it is a
// valid event.
func (v *Validator) ValidateLine(line []byte) []string {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(line))
	if err != nil {
		return []string{fmt.Sprintf("JSON parse error: %v", err)}
	}
	err = v.schema.Validate(inst)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	return flatten(ve.Error())
}

// flatten turns the validator's indented error tree into one message per
// leaf, dropping the header line.
func flatten(text string) []string {
	lines := strings.Split(text, "\n")
	var out []string
	for _, l := range lines[1:] {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "- ")
		if l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return out
}

// Options controls a file validation.
type Options struct {
	// MaxErrors stops the scan once this many lines were invalid. Zero
	// means DefaultMaxErrors.
	MaxErrors int
	// CleanOut, when set, receives every valid line unchanged.
	CleanOut io.Writer
	// OnInvalid is called for every problem on an invalid line.
	OnInvalid func(line int, msg string)
}

// Report summarizes a file validation.
type Report struct {
	Path    string
	Events  int
	Valid   int
	Invalid int
	// Truncated is set when MaxErrors stopped the scan early.
	Truncated bool
}

// ValidateFile checks every non-empty line of path. The returned error is
// only for I/O failures; invalid lines are counted in the report.
func (v *Validator) ValidateFile(path string, opts Options) (Report, error) {
	maxErrors := opts.MaxErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	rep := Report{Path: path}

	f, err := os.Open(path)
	if err != nil {
		return rep, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	lineNo := 0
	for {
		raw, readErr := br.ReadBytes('\n')
		if len(raw) > 0 {
			lineNo++
			if stop, err := v.consume(raw, lineNo, &rep, opts, maxErrors); err != nil {
				return rep, err
			} else if stop {
				rep.Truncated = true
				return rep, nil
			}
		}
		if readErr == io.EOF {
			return rep, nil
		}
		if readErr != nil {
			return rep, readErr
		}
	}
}

func (v *Validator) consume(raw []byte, lineNo int, rep *Report, opts Options, maxErrors int) (bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false, nil
	}
	rep.Events++

	problems := v.ValidateLine(trimmed)
	if len(problems) > 0 {
		rep.Invalid++
		if opts.OnInvalid != nil {
			for _, p := range problems {
				opts.OnInvalid(lineNo, p)
			}
		}
		return rep.Invalid >= maxErrors, nil
	}

	rep.Valid++
	if opts.CleanOut != nil {
		if _, err := opts.CleanOut.Write(append(trimmed, '\n')); err != nil {
			return false, fmt.Errorf("write clean output: %w", err)
		}
	}
	return false, nil
}
