// Package session implements server-side session state for the HR portal:
// opaque cookie identifiers, fixation-safe regeneration, and idle/absolute
// timeout enforcement over a pluggable store.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session id does not resolve to a live record.
var ErrNotFound = errors.New("session not found")

// Pending kinds.
const (
	PendingTwoFactor      = "two_factor"
	PendingPasswordChange = "password_change"
)

// Pending is the transient state held between the first-factor check and
// login finalization. It never contains the password, its hash, or the TOTP
// secret.
type Pending struct {
	Kind      string    `json:"kind"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Remember  bool      `json:"remember"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the pending context has outlived its ttl.
func (p *Pending) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.CreatedAt) > ttl
}

// Record is one browser's server-side session.
type Record struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	UserID        string    `json:"user_id,omitempty"`
	Username      string    `json:"username,omitempty"`
	Name          string    `json:"name,omitempty"`
	Role          string    `json:"role,omitempty"`
	CSRFToken     string    `json:"csrf_token"`
	Pending       *Pending  `json:"pending,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}

// Store persists session records keyed by id. Implementations must treat the
// ttl as a hard upper bound on the record's lifetime.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, rec *Record, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}
