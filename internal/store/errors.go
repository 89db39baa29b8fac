package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness rule or a
	// record is not in the state the operation requires.
	ErrConflict = errors.New("conflict")
	// ErrInvalid wraps caller mistakes in list parameters, such as an order
	// column outside the allow-list.
	ErrInvalid = errors.New("invalid request")
)
