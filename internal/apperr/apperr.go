// Package apperr encodes a small error taxonomy as typed, wrappable
// errors so callers can decide retry-vs-abort-vs-skip with
// errors.Is/errors.As instead of string matching.
package apperr

import "fmt"

// Sentinel errors for the taxonomy's broad classes. Wrap these with
// fmt.Errorf("...: %w", ErrX) to preserve errors.Is matching while
// adding context.
var (
	// ErrBusy marks a Store operation that failed because the
	// database was locked. Nothing in this module retries on it;
	// callers handle it like any other Store error.
	ErrBusy = fmt.Errorf("store busy")

	// ErrCorrupt marks a Store operation that failed because the
	// schema is missing or mismatched. Fatal: abort the run.
	ErrCorrupt = fmt.Errorf("store corrupt or schema mismatch")

	// ErrValidation marks a data validation failure (bad CVE format,
	// unknown category, unparseable date). Callers skip the
	// offending record and log a warning.
	ErrValidation = fmt.Errorf("validation failed")

	// ErrTransient marks a transient external failure (HTTP timeout,
	// 5xx, network error). Callers retry with backoff; after
	// exhaustion, log and continue.
	ErrTransient = fmt.Errorf("transient external failure")

	// ErrLLMMalformed marks an LLM response that could not be parsed
	// as the expected JSON shape even after fence-stripping.
	ErrLLMMalformed = fmt.Errorf("llm response malformed")
)

// Busy wraps err as a busy failure.
func Busy(err error) error {
	return fmt.Errorf("%w: %v", ErrBusy, err)
}

// Corrupt wraps err as a corrupt-schema failure.
func Corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrCorrupt, err)
}

// Validation builds a validation failure for the given field/reason.
func Validation(field, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrValidation, field, reason)
}

// Transient wraps err as a transient external failure.
func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// LLMMalformed wraps the raw response text as a malformed-LLM-response
// failure.
func LLMMalformed(raw string) error {
	return fmt.Errorf("%w: %.200s", ErrLLMMalformed, raw)
}
