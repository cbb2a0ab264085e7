package engine

import (
	"errors"
	"fmt"
)

// ProviderError reports a failed embedding call. No store mutation happens
// for a fact whose embedding failed.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return "embedding provider: " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// StoreError reports a failed repository call. The cycle it occurred in is
// considered failed; retrying is up to the caller.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func providerError(err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Err: err}
}
