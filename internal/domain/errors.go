package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConstraintRace is returned by the store when a concurrent writer won a
	// uniqueness race. Callers re-fetch and proceed; it never reaches the run level.
	ErrConstraintRace = errors.New("uniqueness constraint race")

	// ErrGeocodeNotFound is returned when the provider has no result for an address
	ErrGeocodeNotFound = errors.New("geocode result not found")

	// ErrRunTimeout marks an ingest run that exceeded its wall-clock budget
	ErrRunTimeout = errors.New("ingest run exceeded wall-clock budget")
)

// ValidationError rejects one raw extract result that is missing required
// fields. The item is dropped from the run; the run itself continues.
type ValidationError struct {
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.MissingFields, ", "))
}

// NewValidationError creates a validation error naming the missing fields
func NewValidationError(fields ...string) *ValidationError {
	return &ValidationError{MissingFields: fields}
}

// GeocodeError wraps a provider failure. It is non-fatal: the venue is kept
// without coordinates and the lookup is retried on a later sighting.
type GeocodeError struct {
	Address string
	Err     error
}

func (e *GeocodeError) Error() string {
	return fmt.Sprintf("geocode failed for %q: %v", e.Address, e.Err)
}

func (e *GeocodeError) Unwrap() error {
	return e.Err
}
