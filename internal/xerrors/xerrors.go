// Package xerrors implements the five error categories of spec.md §7.
// Only InputError is returned from the orchestrator to its caller;
// QuotaError, ParseError and ResourceError are recorded as phase metadata
// and the run continues.
package xerrors

import "errors"

// InputError marks a malformed URL or missing required configuration,
// surfaced to the caller before any phase runs.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return "input error: " + e.Err.Error() }
func (e *InputError) Unwrap() error { return e.Err }

// NewInputError wraps err as an InputError.
func NewInputError(err error) *InputError { return &InputError{Err: err} }

// FatalInternalError marks an unexpected programmer error. It aborts the
// run: overall_status=error with no partial FinalRecord.
type FatalInternalError struct {
	Err error
}

func (e *FatalInternalError) Error() string { return "fatal internal error: " + e.Err.Error() }
func (e *FatalInternalError) Unwrap() error { return e.Err }

// NewFatalInternalError wraps err as a FatalInternalError.
func NewFatalInternalError(err error) *FatalInternalError { return &FatalInternalError{Err: err} }

// QuotaError marks explicit quota exhaustion from an external service.
// The component returns partial; the orchestrator records and continues.
type QuotaError struct {
	Service string
	Err     error
}

func (e *QuotaError) Error() string {
	if e.Err == nil {
		return "quota exceeded: " + e.Service
	}
	return "quota exceeded: " + e.Service + ": " + e.Err.Error()
}
func (e *QuotaError) Unwrap() error { return e.Err }

// NewQuotaError builds a QuotaError for the named external service.
func NewQuotaError(service string, err error) *QuotaError { return &QuotaError{Service: service, Err: err} }

// ParseError marks unparseable LLM JSON output after retries are
// exhausted. The corresponding canonical field is left empty; the raw
// text observation is retained.
type ParseError struct {
	Component string
	RawText   string
	Err       error
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Component + ": " + e.Err.Error()
}
func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError builds a ParseError for the named component, keeping the
// raw text that failed to parse for diagnostics.
func NewParseError(component, rawText string, err error) *ParseError {
	return &ParseError{Component: component, RawText: rawText, Err: err}
}

// ResourceError marks an artifact-store failure or browser launch
// failure. If it blocks a whole phase, that phase is skipped with an
// error entry; the pipeline continues.
type ResourceError struct {
	Resource string
	Err      error
}

func (e *ResourceError) Error() string {
	return "resource error: " + e.Resource + ": " + e.Err.Error()
}
func (e *ResourceError) Unwrap() error { return e.Err }

// NewResourceError wraps err as a ResourceError for the named resource.
func NewResourceError(resource string, err error) *ResourceError {
	return &ResourceError{Resource: resource, Err: err}
}

// IsInputError reports whether err (or any error in its chain) is an InputError.
func IsInputError(err error) bool {
	var e *InputError
	return errors.As(err, &e)
}

// IsParseError reports whether err (or any error in its chain) is a ParseError.
func IsParseError(err error) bool {
	var e *ParseError
	return errors.As(err, &e)
}

// IsResourceError reports whether err (or any error in its chain) is a ResourceError.
func IsResourceError(err error) bool {
	var e *ResourceError
	return errors.As(err, &e)
}

// IsFatalInternalError reports whether err (or any error in its chain) is
// a FatalInternalError.
func IsFatalInternalError(err error) bool {
	var e *FatalInternalError
	return errors.As(err, &e)
}

// IsQuotaError reports whether err (or any error in its chain) is a QuotaError.
func IsQuotaError(err error) bool {
	var e *QuotaError
	return errors.As(err, &e)
}
