package access

import (
	"errors"
	"time"

	"github.com/loqalabs/textreel/internal/failure"
)

// Entitlement is the caller's subscription status, resolved by the billing layer
// before a render request is made. It is passed by value and never mutated.
type Entitlement struct {
	UserID    string    `json:"user_id" yaml:"user"`
	Active    bool      `json:"active" yaml:"active"`
	CheckedAt time.Time `json:"checked_at,omitempty" yaml:"-"`
}

// Granted returns an active entitlement, used by local tooling that bypasses billing.
func Granted(userID string) Entitlement {
	return Entitlement{UserID: userID, Active: true, CheckedAt: time.Now().UTC()}
}

// Require fails with InvalidInput when the caller has no active subscription.
func (e Entitlement) Require() error {
	if e.UserID == "" {
		return failure.New(failure.InvalidInput, "entitlement", errors.New("render request has no user"))
	}
	if !e.Active {
		return failure.Errorf(failure.InvalidInput, "entitlement", "user %s has no active subscription", e.UserID)
	}
	return nil
}
