package services

import "fmt"

// ValidationError marks a rejected operation: a missing required field on
// create, or a state transition the lifecycle does not allow. The record is
// never mutated when one of these is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// HashError marks a single evidence file that could not be digested. The
// failure is per-file: the rest of the upload batch is unaffected.
type HashError struct {
	Name string
	Err  error
}

func (e *HashError) Error() string {
	return fmt.Sprintf("hash evidence file %q: %v", e.Name, e.Err)
}

func (e *HashError) Unwrap() error { return e.Err }
