package billing

import (
	"errors"
	"fmt"

	"github.com/billsync/backend/internal/domain/shared"
)

// ErrRemoteNotConfigured is returned by every client operation when no
// provider credential is configured.
var ErrRemoteNotConfigured = &shared.ConfigurationError{
	Component: "billing",
	Reason:    "provider API key not configured",
}

// ErrMissingRemoteCustomer is the validation message used when a subscription
// is requested for a subscriber that has no remote customer yet.
var ErrMissingRemoteCustomer = errors.New("stripe_customer_id is required")

// MissingRemoteKeyError is returned when an entity type is declared
// remote-backed but its schema has no column for the remote identifier.
type MissingRemoteKeyError struct {
	Entity string
	Column string
}

// Error implements the error interface
func (e *MissingRemoteKeyError) Error() string {
	return fmt.Sprintf("%s attribute not found on %s", e.Column, e.Entity)
}

// Is matches any *MissingRemoteKeyError target.
func (e *MissingRemoteKeyError) Is(target error) bool {
	_, ok := target.(*MissingRemoteKeyError)
	return ok
}

// As exposes the error as a configuration error.
func (e *MissingRemoteKeyError) As(target any) bool {
	if ce, ok := target.(**shared.ConfigurationError); ok {
		*ce = &shared.ConfigurationError{Component: e.Entity, Reason: e.Error()}
		return true
	}
	return false
}
