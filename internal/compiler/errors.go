package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// Provisioning errors.
var (
	ErrDownloadFailure     = errors.New("compiler download failed")
	ErrCorruptBinary       = errors.New("compiler binary failed validation")
	ErrUnsupportedPlatform = errors.New("no native compiler build for this platform")
	ErrUnsupportedLanguage = errors.New("unsupported compiler language")
)

// Invocation errors.
var (
	ErrInvalidRequest  = errors.New("compilation request is not valid JSON")
	ErrCompilerProcess = errors.New("compiler process failed")
	ErrOutputTooLarge  = errors.New("compiler output exceeds size limit")
	ErrCompilerError   = errors.New("compilation failed")
	ErrNoOutput        = errors.New("compiler produced no output")
)

// DownloadError reports a resource that could not be fetched after all
// attempts.
type DownloadError struct {
	Resource string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("fetching %s failed after %d attempts: %v", e.Resource, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() []error {
	return []error{ErrDownloadFailure, e.Err}
}

// ProcessError carries what a compiler process wrote to stderr.
type ProcessError struct {
	Path   string
	Stderr string
	Err    error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("compiler process %s failed", e.Path)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *ProcessError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCompilerProcess}
	}
	return []error{ErrCompilerProcess, e.Err}
}

// CompilerError is returned when the compiler reports at least one
// diagnostic with severity "error". Diagnostics holds every diagnostic
// the compiler produced, warnings included.
type CompilerError struct {
	Diagnostics []Diagnostic
}

func (e *CompilerError) Error() string {
	var msgs []string
	for _, d := range e.Diagnostics {
		if d.IsError() {
			msgs = append(msgs, d.Text())
		}
	}
	return fmt.Sprintf("compilation failed with %d error(s): %s", len(msgs), strings.Join(msgs, "; "))
}

func (e *CompilerError) Unwrap() error {
	return ErrCompilerError
}
