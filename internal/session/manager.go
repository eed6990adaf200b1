package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config carries the deployment policy for sessions.
type Config struct {
	CookieName      string
	CookieSecure    bool
	CookieDomain    string
	IdleTimeout     time.Duration
	AbsoluteTimeout time.Duration
}

// Manager owns the session lifecycle: creation, timeout enforcement,
// fixation-safe regeneration, and destruction.
type Manager struct {
	store Store
	cfg   Config
	log   zerolog.Logger
}

// NewManager creates a session manager over the given store.
func NewManager(store Store, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{store: store, cfg: cfg, log: log}
}

func newToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// NewCSRFToken generates a fresh anti-forgery token.
func NewCSRFToken() (string, error) {
	return newToken()
}

// Start creates a new anonymous session with a fresh CSRF token.
func (m *Manager) Start(ctx context.Context) (*Record, error) {
	id, err := newToken()
	if err != nil {
		return nil, err
	}
	csrf, err := NewCSRFToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &Record{
		ID:         id,
		CSRFToken:  csrf,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := m.store.Put(ctx, rec, m.ttl(rec, now)); err != nil {
		return nil, err
	}
	return rec, nil
}

// Load resolves a session id, enforcing idle and absolute timeouts before
// anything else sees the record. Expired sessions are destroyed and reported
// as ErrNotFound.
func (m *Manager) Load(ctx context.Context, id string, now time.Time) (*Record, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if now.Sub(rec.CreatedAt) > m.cfg.AbsoluteTimeout || now.Sub(rec.LastSeenAt) > m.cfg.IdleTimeout {
		if err := m.store.Delete(ctx, id); err != nil {
			m.log.Warn().Err(err).Msg("Failed to delete expired session")
		}
		return nil, ErrNotFound
	}

	rec.LastSeenAt = now
	if err := m.store.Put(ctx, rec, m.ttl(rec, now)); err != nil {
		return nil, err
	}
	return rec, nil
}

// Save persists mutations made to a loaded record.
func (m *Manager) Save(ctx context.Context, rec *Record) error {
	return m.store.Put(ctx, rec, m.ttl(rec, time.Now()))
}

// Regenerate issues a new session identifier, migrates the record to it, and
// invalidates the old identifier. Must be called at every trust-level change.
func (m *Manager) Regenerate(ctx context.Context, rec *Record) error {
	oldID := rec.ID
	newID, err := newToken()
	if err != nil {
		return err
	}

	rec.ID = newID
	if err := m.Save(ctx, rec); err != nil {
		rec.ID = oldID
		return err
	}
	if err := m.store.Delete(ctx, oldID); err != nil {
		m.log.Warn().Err(err).Msg("Failed to delete superseded session id")
	}
	return nil
}

// Destroy removes the session record.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// ttl bounds the stored record by the remaining absolute lifetime, never more
// than one idle window at a time.
func (m *Manager) ttl(rec *Record, now time.Time) time.Duration {
	remaining := m.cfg.AbsoluteTimeout - now.Sub(rec.CreatedAt)
	if remaining <= 0 {
		return time.Second
	}
	if remaining > m.cfg.IdleTimeout {
		return m.cfg.IdleTimeout
	}
	return remaining
}

// Cookie builds the session cookie for a record.
func (m *Manager) Cookie(rec *Record) *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    rec.ID,
		Path:     "/",
		Domain:   m.cfg.CookieDomain,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredCookie builds a cookie that clears the client-side session reference.
func (m *Manager) ExpiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.cfg.CookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// CookieName returns the configured session cookie name.
func (m *Manager) CookieName() string {
	return m.cfg.CookieName
}
