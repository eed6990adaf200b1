package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/workbridge-hq/hr-portal/internal/repository"
	"github.com/workbridge-hq/hr-portal/internal/session"
	"github.com/workbridge-hq/hr-portal/pkg/password"
	"github.com/workbridge-hq/hr-portal/pkg/totp"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrNoPendingAuth      = errors.New("no pending authentication")
)

// UserStore is the credential-store surface the login flow needs. Implemented
// by repository.UserRepository; tests substitute an in-memory fake.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*repository.User, error)
	GetByID(ctx context.Context, id string) (*repository.User, error)
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockFor time.Duration) (int, *time.Time, error)
	ResetLoginFailures(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id, ip string) error
	UpdatePassword(ctx context.Context, id, hash string) error
	RehashPassword(ctx context.Context, id, hash string) error
	SetRememberTokenHash(ctx context.Context, id, hash string) error
	ClearRememberToken(ctx context.Context, id string) error
	EnableTwoFactor(ctx context.Context, id, secret string, codeHashes []string) error
	DisableTwoFactor(ctx context.Context, id string) error
	ConsumeRecoveryCode(ctx context.Context, id, codeHash string) (bool, error)
	SetLastTOTPStep(ctx context.Context, id string, step int64) (bool, error)
}

// AuthService sequences credential verification, lockout, the 2FA gate,
// forced password rotation, and remember-me tokens into the login flow.
type AuthService struct {
	users  UserStore
	audit  repository.AuditSink
	policy Policy
	log    zerolog.Logger
	now    func() time.Time
}

// NewAuthService creates the login orchestrator. A nil audit sink is replaced
// with a no-op.
func NewAuthService(users UserStore, audit repository.AuditSink, policy Policy, log zerolog.Logger) *AuthService {
	if audit == nil {
		audit = repository.NopAuditSink{}
	}
	return &AuthService{
		users:  users,
		audit:  audit,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
}

// Policy returns the active login policy.
func (s *AuthService) Policy() Policy {
	return s.policy
}

// LoginRequest is one credentials submission.
type LoginRequest struct {
	Username string
	Password string
	Remember bool
	IP       string
}

// Login runs the first factor: status and lockout checks, then password
// verification, then the role allow-list, then branches to 2FA or forced
// password change or full authentication.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) *LoginOutcome {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return validationOutcome("Username and password are required.")
	}

	now := s.now()

	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		// Same outcome as a wrong password: never reveal whether the
		// account exists.
		s.audit.LogAuthEvent(ctx, repository.AuthEvent{
			Username: username, Event: repository.EventLoginFailure,
			IPAddress: req.IP, Reason: "unknown username",
		})
		return invalidCredentialsOutcome()
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Credential lookup failed")
		return serverOutcome()
	}

	// Status and lockout checks come before password verification so a
	// disabled or locked account never reveals whether the password was
	// right.
	if user.Status != repository.StatusActive {
		s.log.Warn().Str("user_id", user.ID).Str("status", user.Status).Msg("Login refused by account status")
		s.audit.LogAuthEvent(ctx, repository.AuthEvent{
			UserID: user.ID, Username: username, Event: repository.EventLoginFailure,
			IPAddress: req.IP, Reason: "status " + user.Status,
		})
		return statusOutcome(user, now)
	}
	if user.IsLocked(now) {
		s.log.Warn().Str("user_id", user.ID).Time("locked_until", *user.LockedUntil).Msg("Login refused while locked")
		s.audit.LogAuthEvent(ctx, repository.AuthEvent{
			UserID: user.ID, Username: username, Event: repository.EventLoginFailure,
			IPAddress: req.IP, Reason: "locked",
		})
		return lockedOutcome()
	}

	if user.PasswordHash == nil {
		return invalidCredentialsOutcome()
	}
	ok, err := password.Verify(req.Password, *user.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("Password verification failed")
		return serverOutcome()
	}
	if !ok {
		count, lockedUntil, err := s.users.RecordLoginFailure(ctx, user.ID, s.policy.LockoutThreshold, s.policy.LockoutDuration)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to record login failure")
		}
		event := repository.EventLoginFailure
		if lockedUntil != nil && lockedUntil.After(now) {
			event = repository.EventLockout
			s.log.Warn().Str("user_id", user.ID).Int("failures", count).Msg("Account locked after repeated failures")
		}
		s.audit.LogAuthEvent(ctx, repository.AuthEvent{
			UserID: user.ID, Username: username, Event: event,
			IPAddress: req.IP, Reason: "wrong password",
		})
		return invalidCredentialsOutcome()
	}

	s.maybeRehash(ctx, user, req.Password)

	// The password was right. Role allow-list applies from here on.
	if !s.policy.roleAllowed(user.Role) {
		s.audit.LogAuthEvent(ctx, repository.AuthEvent{
			UserID: user.ID, Username: username, Event: repository.EventRoleRefused,
			IPAddress: req.IP, Success: true, Reason: "role " + user.Role,
		})
		return &LoginOutcome{
			Kind:    KindRoleNotPermitted,
			Message: "Accounts with role \"" + user.Role + "\" cannot sign in here.",
		}
	}

	if s.policy.RequirePasswordChange && user.PasswordChangedAt == nil {
		return &LoginOutcome{
			Kind:    KindRequirePasswordChange,
			Message: "You must choose a new password before continuing.",
			Pending: s.newPending(session.PendingPasswordChange, user, req.Remember, now),
		}
	}

	if s.policy.roleRequiresTwoFactor(user.Role) && user.TwoFactorEnabled && user.TwoFactorSecret != nil {
		return &LoginOutcome{
			Kind:    KindRequireTwoFactor,
			Message: "Enter the code from your authenticator app.",
			Pending: s.newPending(session.PendingTwoFactor, user, req.Remember, now),
		}
	}

	return s.finalize(ctx, user, req.IP)
}

// VerifyTwoFactor completes a pending 2FA challenge with either a 6-digit
// TOTP code or an 8-character recovery code. Both wrong-code cases share one
// generic outcome.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, pending *session.Pending, code, ip string) *LoginOutcome {
	if pending == nil || pending.Kind != session.PendingTwoFactor {
		return validationOutcome(msgSessionExpired)
	}
	now := s.now()
	if pending.Expired(now, s.policy.PendingAuthTTL) {
		return validationOutcome(msgSessionExpired)
	}

	user, err := s.users.GetByID(ctx, pending.UserID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", pending.UserID).Msg("Pending 2FA user lookup failed")
		return serverOutcome()
	}
	// The account may have been disabled or locked between the two steps.
	if user.Status != repository.StatusActive {
		return statusOutcome(user, now)
	}
	if user.IsLocked(now) {
		return lockedOutcome()
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return validationOutcome(msgSessionExpired)
	}

	code = strings.TrimSpace(code)
	switch {
	case isTOTPCode(code):
		step, ok := totp.MatchedStep(*user.TwoFactorSecret, code, now)
		if ok {
			// Advance the replay guard; a code already used this
			// step fails here and is treated like a wrong code.
			accepted, err := s.users.SetLastTOTPStep(ctx, user.ID, step)
			if err != nil {
				s.log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to advance TOTP step")
				return serverOutcome()
			}
			ok = accepted
		}
		if !ok {
			s.auditTwoFactorFailure(ctx, user, ip, "totp")
			return invalidCodeOutcome()
		}
	case len(totp.NormalizeRecoveryCode(code)) == totp.RecoveryCodeLength:
		consumed, err := s.users.ConsumeRecoveryCode(ctx, user.ID, totp.HashRecoveryCode(code))
		if err != nil {
			s.log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to consume recovery code")
			return serverOutcome()
		}
		if !consumed {
			s.auditTwoFactorFailure(ctx, user, ip, "recovery")
			return invalidCodeOutcome()
		}
	default:
		s.auditTwoFactorFailure(ctx, user, ip, "format")
		return invalidCodeOutcome()
	}

	s.audit.LogAuthEvent(ctx, repository.AuthEvent{
		UserID: user.ID, Username: user.Username, Event: repository.EventTwoFactorSuccess,
		IPAddress: ip, Success: true,
	})
	return s.finalize(ctx, user, ip)
}

// CompletePasswordChange finishes a forced first-login password rotation.
func (s *AuthService) CompletePasswordChange(ctx context.Context, pending *session.Pending, newPassword, confirm, ip string) *LoginOutcome {
	if pending == nil || pending.Kind != session.PendingPasswordChange {
		return validationOutcome(msgSessionExpired)
	}
	now := s.now()
	if pending.Expired(now, s.policy.PendingAuthTTL) {
		return validationOutcome(msgSessionExpired)
	}

	if len(newPassword) < 8 {
		return validationOutcome("Password must be at least 8 characters.")
	}
	if newPassword != confirm {
		return validationOutcome("Passwords do not match.")
	}

	user, err := s.users.GetByID(ctx, pending.UserID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", pending.UserID).Msg("Pending password-change user lookup failed")
		return serverOutcome()
	}
	if user.Status != repository.StatusActive {
		return statusOutcome(user, now)
	}

	hash, err := password.Hash(newPassword, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to hash new password")
		return serverOutcome()
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to rotate password")
		return serverOutcome()
	}
	s.audit.LogAuthEvent(ctx, repository.AuthEvent{
		UserID: user.ID, Username: user.Username, Event: repository.EventPasswordChanged,
		IPAddress: ip, Success: true,
	})

	return s.finalize(ctx, user, ip)
}

// finalize performs the mutations every successful authentication path
// shares: counter reset and last-login update. Session regeneration happens
// in the caller, which owns the transport.
func (s *AuthService) finalize(ctx context.Context, user *repository.User, ip string) *LoginOutcome {
	if err := s.users.ResetLoginFailures(ctx, user.ID); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to reset login failures")
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID, ip); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to update last login")
	}
	s.audit.LogAuthEvent(ctx, repository.AuthEvent{
		UserID: user.ID, Username: user.Username, Event: repository.EventLoginSuccess,
		IPAddress: ip, Success: true,
	})
	s.log.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("Login successful")

	return &LoginOutcome{
		Kind:     KindAuthenticated,
		User:     user,
		Redirect: s.policy.RoleHome(user.Role),
	}
}

// Logout revokes the remember-me token and records the event. Session
// destruction happens in the caller.
func (s *AuthService) Logout(ctx context.Context, userID, username, ip string) {
	if userID == "" {
		return
	}
	if err := s.users.ClearRememberToken(ctx, userID); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to revoke remember token on logout")
	}
	s.audit.LogAuthEvent(ctx, repository.AuthEvent{
		UserID: userID, Username: username, Event: repository.EventLogout,
		IPAddress: ip, Success: true,
	})
}

// maybeRehash upgrades a digest produced with weaker-than-current parameters
// while the plaintext is in hand. Best effort; a failed upgrade never blocks
// the login, and password_changed_at is left alone.
func (s *AuthService) maybeRehash(ctx context.Context, user *repository.User, plain string) {
	upgrade, err := password.NeedsRehash(*user.PasswordHash, nil)
	if err != nil || !upgrade {
		return
	}
	hash, err := password.Hash(plain, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to rehash password")
		return
	}
	if err := s.users.RehashPassword(ctx, user.ID, hash); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to store upgraded password hash")
		return
	}
	s.log.Info().Str("user_id", user.ID).Msg("Password hash upgraded to current parameters")
}

func (s *AuthService) auditTwoFactorFailure(ctx context.Context, user *repository.User, ip, reason string) {
	s.audit.LogAuthEvent(ctx, repository.AuthEvent{
		UserID: user.ID, Username: user.Username, Event: repository.EventTwoFactorFailure,
		IPAddress: ip, Reason: reason,
	})
}

func (s *AuthService) newPending(kind string, user *repository.User, remember bool, now time.Time) *session.Pending {
	return &session.Pending{
		Kind:      kind,
		UserID:    user.ID,
		Username:  user.Username,
		Name:      user.Name,
		Role:      user.Role,
		Remember:  remember,
		CreatedAt: now,
	}
}

func isTOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
