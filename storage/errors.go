package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when no record exists for a request ID.
	ErrNotFound = errors.New("invocation record not found")

	// ErrMissingRequestID is returned for records without a request ID.
	ErrMissingRequestID = errors.New("record has no request_id")
)
