package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for classifying LLM errors.

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// AttemptFailure is the failure of a single attempt within an invocation.
// It is logged by the attempt loop and never returned to callers directly.
type AttemptFailure struct {
	Attempt int
	Err     error
}

func (e *AttemptFailure) Error() string {
	return fmt.Sprintf("attempt %d: %v", e.Attempt, e.Err)
}

func (e *AttemptFailure) Unwrap() error {
	return e.Err
}

// SchemaMismatch reports a response that could not be decoded into the
// expected shape. The attempt loop retries it like any other failure.
type SchemaMismatch struct {
	// Schema is the name of the schema the response was checked against.
	Schema string

	// Problems lists individual validation failures, if any.
	Problems []string

	// Raw is the response content that failed to decode.
	Raw string

	// Err is the underlying parse error, if any.
	Err error
}

func (e *SchemaMismatch) Error() string {
	var b strings.Builder
	b.WriteString("schema mismatch")
	if e.Schema != "" {
		b.WriteString(" (")
		b.WriteString(e.Schema)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Problems) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Problems, "; "))
	}
	return b.String()
}

func (e *SchemaMismatch) Unwrap() error {
	return e.Err
}

// ExhaustedRetries is the terminal error of an invocation. It wraps the last
// attempt's error and reports how many attempts were made.
type ExhaustedRetries struct {
	Attempts int
	Err      error
}

func (e *ExhaustedRetries) Error() string {
	return fmt.Sprintf("exhausted retries after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedRetries) Unwrap() error {
	return e.Err
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// IsSchemaMismatch returns true if the error carries a SchemaMismatch.
func IsSchemaMismatch(err error) bool {
	var mismatch *SchemaMismatch
	return errors.As(err, &mismatch)
}

// IsExhausted returns true if the error is the terminal ExhaustedRetries error.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedRetries
	return errors.As(err, &exhausted)
}
