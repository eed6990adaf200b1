package service

import (
	"fmt"
	"slices"
	"time"

	"github.com/workbridge-hq/hr-portal/internal/repository"
	"github.com/workbridge-hq/hr-portal/internal/session"
)

// OutcomeKind classifies the result of a login-flow step.
type OutcomeKind string

const (
	KindValidation            OutcomeKind = "validation"
	KindStatus                OutcomeKind = "status"
	KindLocked                OutcomeKind = "locked"
	KindInvalidCredentials    OutcomeKind = "invalid_credentials"
	KindRoleNotPermitted      OutcomeKind = "role_not_permitted"
	KindServer                OutcomeKind = "server"
	KindRequireTwoFactor      OutcomeKind = "require_2fa"
	KindRequirePasswordChange OutcomeKind = "require_password_change"
	KindAuthenticated         OutcomeKind = "authenticated"
)

// User-facing messages. Unknown-user and wrong-password deliberately share
// one message; wrong TOTP and wrong recovery code share another.
const (
	msgInvalidCredentials = "Invalid username or password."
	msgLocked             = "Account temporarily locked. Try again later."
	msgInactive           = "This account has been deactivated. Contact your administrator."
	msgSuspended          = "This account is suspended. Contact your administrator."
	msgInvalidCode        = "Invalid verification code."
	msgServer             = "Something went wrong. Please try again."
	msgSessionExpired     = "Your sign-in session expired. Please start again."
)

// LoginOutcome is the typed result of a login-flow operation. Domain failures
// are outcomes, not errors; only infrastructure trouble surfaces as KindServer.
type LoginOutcome struct {
	Kind    OutcomeKind
	Message string
	// Status carries the account status for KindStatus outcomes.
	Status string
	// User is set on KindAuthenticated.
	User *repository.User
	// Pending is set on KindRequireTwoFactor and KindRequirePasswordChange;
	// the caller stores it in the session.
	Pending *session.Pending
	// Redirect is the role home destination, set on KindAuthenticated.
	Redirect string
}

// Policy is the deployment-configurable part of the login flow.
type Policy struct {
	LockoutThreshold      int
	LockoutDuration       time.Duration
	AllowedRoles          []string
	TwoFactorRoles        []string
	RequirePasswordChange bool
	PendingAuthTTL        time.Duration
	RememberTokenTTL      time.Duration
	RoleHomes             map[string]string
}

func (p Policy) roleAllowed(role string) bool {
	return slices.Contains(p.AllowedRoles, role)
}

func (p Policy) roleRequiresTwoFactor(role string) bool {
	return slices.Contains(p.TwoFactorRoles, role)
}

// RoleHome returns the post-login destination for a role.
func (p Policy) RoleHome(role string) string {
	if home, ok := p.RoleHomes[role]; ok {
		return home
	}
	return "/dashboard"
}

func validationOutcome(message string) *LoginOutcome {
	return &LoginOutcome{Kind: KindValidation, Message: message}
}

func invalidCredentialsOutcome() *LoginOutcome {
	return &LoginOutcome{Kind: KindInvalidCredentials, Message: msgInvalidCredentials}
}

func invalidCodeOutcome() *LoginOutcome {
	return &LoginOutcome{Kind: KindInvalidCredentials, Message: msgInvalidCode}
}

func lockedOutcome() *LoginOutcome {
	return &LoginOutcome{Kind: KindLocked, Message: msgLocked}
}

func serverOutcome() *LoginOutcome {
	return &LoginOutcome{Kind: KindServer, Message: msgServer}
}

func statusOutcome(user *repository.User, now time.Time) *LoginOutcome {
	out := &LoginOutcome{Kind: KindStatus, Status: user.Status}
	switch user.Status {
	case repository.StatusInactive:
		out.Message = msgInactive
	case repository.StatusSuspended:
		if remaining := user.LockRemaining(now); remaining > 0 {
			out.Message = fmt.Sprintf("This account is suspended. %s remaining.", humanDuration(remaining))
		} else {
			out.Message = msgSuspended
		}
	default:
		out.Message = msgSuspended
	}
	return out
}

// humanDuration renders a duration the way the suspension notice shows it:
// whole days, hours, or minutes, rounded to the nearest unit.
func humanDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		days := int((d + 12*time.Hour) / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	case d >= time.Hour:
		hours := int((d + 30*time.Minute) / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		minutes := int((d + 30*time.Second) / time.Minute)
		if minutes <= 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
}
