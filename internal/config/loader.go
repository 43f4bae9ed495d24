// Package config provides configuration loading helpers.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrorKind classifies configuration failures.
type ErrorKind string

const (
	// ParseFailure indicates the config file could not be read or decoded.
	ParseFailure ErrorKind = "parse_failure"
	// ValidationFailure indicates the config decoded but violates the schema.
	ValidationFailure ErrorKind = "validation_failure"
)

// Error is a configuration failure with its classification and, for
// validation failures, the structured issue list.
type Error struct {
	Kind   ErrorKind
	Path   string
	Issues []ValidationIssue
	Err    error
}

// Error renders the failure naming the offending file and first issue.
func (e *Error) Error() string {
	if e == nil {
		return "config error"
	}
	if e.Kind == ValidationFailure && len(e.Issues) > 0 {
		return fmt.Sprintf("config %s invalid: %s", e.Path, e.Issues[0])
	}
	if e.Err != nil {
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Path, e.Kind)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Load reads and fully validates the project configuration at path.
// A malformed file yields a ParseFailure Error; schema violations yield a
// ValidationFailure Error carrying every issue found. Nothing on disk is
// mutated on either failure path.
func Load(path string, warn func(string)) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	cfg = ApplyDefaults(cfg, warn)
	if issues := Validate(cfg); len(issues) > 0 {
		return Config{}, &Error{Kind: ValidationFailure, Path: path, Issues: issues}
	}
	return cfg, nil
}

// Read decodes the project configuration without validating it. Callers
// that want to surface the full issue list interactively use Read +
// Validate; automated paths use Load and fail fast.
func Read(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, &Error{Kind: ParseFailure, Path: path, Err: err}
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.UseNumber()
	decoder.DisallowUnknownFields()

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, &Error{Kind: ParseFailure, Path: path, Err: fmt.Errorf("decode JSON: %w", err)}
	}
	if err := ensureEOF(decoder); err != nil {
		return Config{}, &Error{Kind: ParseFailure, Path: path, Err: err}
	}
	return cfg, nil
}

// ensureEOF verifies the decoder consumed the entire input.
func ensureEOF(decoder *json.Decoder) error {
	var extra any
	if err := decoder.Decode(&extra); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return errors.New("invalid trailing content after JSON object")
}
