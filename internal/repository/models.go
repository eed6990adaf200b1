package repository

import "time"

// Role values assignable to users.
const (
	RoleSuperAdmin = "super_admin"
	RoleHR         = "hr"
	RoleHRAdmin    = "hr_admin"
	RoleAdmin      = "admin"
	RoleAccounting = "accounting"
	RoleOperation  = "operation"
	RoleLogistics  = "logistics"
	RoleEmployee   = "employee"
	RoleDeveloper  = "developer"
)

// Account status values.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// User represents an account in the HR portal. PasswordHash is a PHC-encoded
// argon2id digest; TwoFactorRecoveryCodes holds SHA-256 digests of the
// normalized recovery codes, never the codes themselves.
type User struct {
	ID                     string
	Username               string
	Email                  string
	Name                   string
	Role                   string
	Status                 string
	PasswordHash           *string
	PasswordChangedAt      *time.Time
	FailedLoginAttempts    int
	LockedUntil            *time.Time
	TwoFactorEnabled       bool
	TwoFactorSecret        *string
	TwoFactorRecoveryCodes []string
	RememberTokenHash      *string
	LastTOTPStep           *int64
	LastLoginAt            *time.Time
	LastLoginIP            *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsLocked reports whether the account is inside a lockout window.
// A locked_until in the past is equivalent to not locked.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// LockRemaining returns how long the current lockout or suspension window
// still has to run. Zero when the account is not locked.
func (u *User) LockRemaining(now time.Time) time.Duration {
	if !u.IsLocked(now) {
		return 0
	}
	return u.LockedUntil.Sub(now)
}

// AuthEvent is a single entry in the authentication audit log.
type AuthEvent struct {
	UserID    string
	Username  string
	Event     string
	IPAddress string
	Success   bool
	Reason    string
	CreatedAt time.Time
}

// Audit event types.
const (
	EventLoginSuccess      = "login_success"
	EventLoginFailure      = "login_failure"
	EventLockout           = "lockout"
	EventLogout            = "logout"
	EventTwoFactorSuccess  = "2fa_success"
	EventTwoFactorFailure  = "2fa_failure"
	EventRememberLogin     = "remember_login"
	EventPasswordChanged   = "password_changed"
	EventTwoFactorEnabled  = "2fa_enabled"
	EventTwoFactorDisabled = "2fa_disabled"
	EventRoleRefused       = "role_refused"
)
