package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/workbridge-hq/hr-portal/internal/repository"
)

// rememberSeparator joins the user id and the secret in the client token.
const rememberSeparator = "|"

// newRememberSecret returns a 256-bit random secret in base64url form.
func newRememberSecret() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate remember secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// hashRememberSecret returns the storage digest of the secret. Only the
// digest is ever persisted.
func hashRememberSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// verifyRememberSecret compares the submitted secret against the stored
// digest in constant time.
func verifyRememberSecret(secret, storedHash string) bool {
	computed := sha256.Sum256([]byte(secret))
	stored, err := hex.DecodeString(storedHash)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(computed[:], stored) == 1
}

// IssueRememberToken mints a fresh persistent-login secret, stores only its
// digest (replacing any previous token), and returns the client token
// "<userId>|<secret>" for cookie storage.
func (s *AuthService) IssueRememberToken(ctx context.Context, user *repository.User) (string, error) {
	secret, err := newRememberSecret()
	if err != nil {
		return "", err
	}
	if err := s.users.SetRememberTokenHash(ctx, user.ID, hashRememberSecret(secret)); err != nil {
		return "", err
	}
	return user.ID + rememberSeparator + secret, nil
}

// LoginWithRememberToken authenticates from a persistent-login cookie.
// Returns (nil, nil) for any token that does not grant a session: malformed,
// unknown user, digest mismatch, or an account that is not active, or locked.
// The caller regenerates the session exactly as after a password login.
func (s *AuthService) LoginWithRememberToken(ctx context.Context, clientToken, ip string) (*repository.User, error) {
	userID, secret, ok := strings.Cut(clientToken, rememberSeparator)
	if !ok || userID == "" || secret == "" {
		return nil, nil
	}

	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if user.RememberTokenHash == nil {
		return nil, nil
	}
	if !verifyRememberSecret(secret, *user.RememberTokenHash) {
		s.log.Warn().Str("user_id", user.ID).Msg("Remember token digest mismatch")
		return nil, nil
	}

	// A verified token is still refused for accounts that may not log in.
	now := s.now()
	if user.Status != repository.StatusActive || user.IsLocked(now) {
		return nil, nil
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, ip); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to update last login")
	}
	s.audit.LogAuthEvent(ctx, repository.AuthEvent{
		UserID: user.ID, Username: user.Username, Event: repository.EventRememberLogin,
		IPAddress: ip, Success: true,
	})
	return user, nil
}

// RevokeRememberToken clears the stored digest. Called on explicit logout.
func (s *AuthService) RevokeRememberToken(ctx context.Context, userID string) error {
	return s.users.ClearRememberToken(ctx, userID)
}
