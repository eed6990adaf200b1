package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/workbridge-hq/hr-portal/internal/repository"
	"github.com/workbridge-hq/hr-portal/pkg/password"
	"github.com/workbridge-hq/hr-portal/pkg/totp"
)

// TwoFactorService manages TOTP enrollment and removal for the profile page.
type TwoFactorService struct {
	users  UserStore
	audit  repository.AuditSink
	issuer string
	log    zerolog.Logger
	now    func() time.Time
}

// NewTwoFactorService creates the 2FA profile service.
func NewTwoFactorService(users UserStore, audit repository.AuditSink, issuer string, log zerolog.Logger) *TwoFactorService {
	if audit == nil {
		audit = repository.NopAuditSink{}
	}
	return &TwoFactorService{users: users, audit: audit, issuer: issuer, log: log, now: time.Now}
}

// Enrollment is the material shown to the user during 2FA setup.
type Enrollment struct {
	Secret string
	URI    string
}

// BeginEnrollment generates a candidate secret and otpauth URI. Nothing is
// persisted until the user proves possession via ConfirmEnrollment.
func (s *TwoFactorService) BeginEnrollment(ctx context.Context, userID string) (*Enrollment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	secret, uri, err := totp.GenerateSecret(s.issuer, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate enrollment secret: %w", err)
	}
	return &Enrollment{Secret: secret, URI: uri}, nil
}

// ConfirmEnrollment verifies a code against the candidate secret, enables
// 2FA, and returns the recovery codes. The plaintext codes are shown exactly
// once; only their digests are stored.
func (s *TwoFactorService) ConfirmEnrollment(ctx context.Context, userID, secret, code string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !totp.Verify(secret, code, s.now()) {
		return nil, ErrInvalidCode
	}

	codes, err := totp.GenerateRecoveryCodes()
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = totp.HashRecoveryCode(c)
	}

	if err := s.users.EnableTwoFactor(ctx, user.ID, secret, hashes); err != nil {
		return nil, err
	}
	s.audit.LogAuthEvent(ctx, repository.AuthEvent{
		UserID: user.ID, Username: user.Username,
		Event: repository.EventTwoFactorEnabled, Success: true,
	})
	s.log.Info().Str("user_id", user.ID).Msg("Two-factor authentication enabled")
	return codes, nil
}

// Disable turns 2FA off. The current password must be re-entered; a wrong
// password leaves the secret and recovery codes untouched.
func (s *TwoFactorService) Disable(ctx context.Context, userID, currentPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.PasswordHash == nil {
		return ErrInvalidCredentials
	}
	ok, err := password.Verify(currentPassword, *user.PasswordHash)
	if err != nil {
		return fmt.Errorf("password verification error: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := s.users.DisableTwoFactor(ctx, user.ID); err != nil {
		return err
	}
	s.audit.LogAuthEvent(ctx, repository.AuthEvent{
		UserID: user.ID, Username: user.Username,
		Event: repository.EventTwoFactorDisabled, Success: true,
	})
	s.log.Info().Str("user_id", user.ID).Msg("Two-factor authentication disabled")
	return nil
}
