package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/workbridge-hq/hr-portal/internal/repository"
	"github.com/workbridge-hq/hr-portal/internal/service"
	"github.com/workbridge-hq/hr-portal/internal/session"
)

// Cookie names for the persistent-login token and the autofill convenience
// cookie. The username cookie is deliberately not httpOnly and never carries
// a secret.
const (
	rememberCookieName = "remember_token"
	usernameCookieName = "remember_username"
)

// ActivityLog serves the signed-in user's recent authentication history.
// Implemented by repository.AuditRepository.
type ActivityLog interface {
	RecentEvents(ctx context.Context, userID string, limit int) ([]repository.AuthEvent, error)
}

// Handler exposes the login flow over HTTP. Pages themselves are rendered by
// an external frontend; this surface speaks form posts and JSON.
type Handler struct {
	auth         *service.AuthService
	twoFactor    *service.TwoFactorService
	sessions     *session.Manager
	activity     ActivityLog
	cookieSecure bool
	cookieDomain string
	rememberTTL  time.Duration
	log          zerolog.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(
	auth *service.AuthService,
	twoFactor *service.TwoFactorService,
	sessions *session.Manager,
	activity ActivityLog,
	cookieSecure bool,
	cookieDomain string,
	rememberTTL time.Duration,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		auth:         auth,
		twoFactor:    twoFactor,
		sessions:     sessions,
		activity:     activity,
		cookieSecure: cookieSecure,
		cookieDomain: cookieDomain,
		rememberTTL:  rememberTTL,
		log:          log,
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// LoginPage bootstraps the login form: hands out the CSRF token, restores a
// session from the remember-me cookie when one is presented, and short-cuts
// users who are already signed in.
func (h *Handler) LoginPage(c *gin.Context) {
	rec := currentSession(c)

	if rec.Authenticated {
		c.JSON(http.StatusOK, gin.H{"redirect": h.auth.Policy().RoleHome(rec.Role)})
		return
	}

	if cookie, err := c.Request.Cookie(rememberCookieName); err == nil && cookie.Value != "" {
		user, err := h.auth.LoginWithRememberToken(c.Request.Context(), cookie.Value, c.ClientIP())
		if err != nil {
			h.log.Error().Err(err).Msg("Remember-me verification failed")
		}
		if user != nil {
			redirect := h.auth.Policy().RoleHome(user.Role)
			if err := h.promoteSession(c, rec, user); err != nil {
				h.serverError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"redirect": redirect})
			return
		}
		// A cookie that does not grant a session is cleared so the
		// client stops presenting it.
		http.SetCookie(c.Writer, h.expiredRememberCookie())
	}

	resp := gin.H{"csrf_token": rec.CSRFToken}
	if cookie, err := c.Request.Cookie(usernameCookieName); err == nil && cookie.Value != "" {
		resp["username"] = cookie.Value
	}
	c.JSON(http.StatusOK, resp)
}

type loginForm struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
	Remember bool   `form:"remember_me" json:"remember_me"`
}

// Login handles the credentials submission.
func (h *Handler) Login(c *gin.Context) {
	rec := currentSession(c)

	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation", "message": "Invalid request body."})
		return
	}

	outcome := h.auth.Login(c.Request.Context(), service.LoginRequest{
		Username: form.Username,
		Password: form.Password,
		Remember: form.Remember,
		IP:       c.ClientIP(),
	})

	switch outcome.Kind {
	case service.KindAuthenticated:
		h.finishLogin(c, rec, outcome, form.Remember)
	case service.KindRequireTwoFactor, service.KindRequirePasswordChange:
		// The correct password raised the trust level, so the
		// half-authenticated state gets a fresh session id too; a
		// fixated pre-login cookie must not reach the pending context.
		rec.Pending = outcome.Pending
		if err := h.sessions.Regenerate(c.Request.Context(), rec); err != nil {
			h.serverError(c, err)
			return
		}
		http.SetCookie(c.Writer, h.sessions.Cookie(rec))
		c.JSON(http.StatusOK, gin.H{"kind": string(outcome.Kind), "message": outcome.Message})
	default:
		h.failLogin(c, outcome)
	}
}

type codeForm struct {
	Code string `form:"code" json:"code"`
}

// VerifyTwoFactor handles the follow-up 2FA submission. It requires a
// pending two-factor context in the session.
func (h *Handler) VerifyTwoFactor(c *gin.Context) {
	rec := currentSession(c)

	var form codeForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation", "message": "Invalid request body."})
		return
	}

	pending := rec.Pending
	outcome := h.auth.VerifyTwoFactor(c.Request.Context(), pending, form.Code, c.ClientIP())

	if outcome.Kind == service.KindAuthenticated {
		h.finishLogin(c, rec, outcome, pending.Remember)
		return
	}
	if outcome.Kind == service.KindValidation {
		// The pending context is gone or expired; make the client start over.
		h.abandonPending(c, rec)
	}
	h.failLogin(c, outcome)
}

type passwordChangeForm struct {
	NewPassword     string `form:"new_password" json:"new_password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// ChangePassword handles the forced first-login password rotation.
func (h *Handler) ChangePassword(c *gin.Context) {
	rec := currentSession(c)

	var form passwordChangeForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation", "message": "Invalid request body."})
		return
	}

	pending := rec.Pending
	outcome := h.auth.CompletePasswordChange(c.Request.Context(), pending, form.NewPassword, form.ConfirmPassword, c.ClientIP())

	if outcome.Kind == service.KindAuthenticated {
		h.finishLogin(c, rec, outcome, pending.Remember)
		return
	}
	h.failLogin(c, outcome)
}

// Logout revokes the remember-me token, destroys the session, and expires
// both cookies explicitly.
func (h *Handler) Logout(c *gin.Context) {
	rec := currentSession(c)

	h.auth.Logout(c.Request.Context(), rec.UserID, rec.Username, c.ClientIP())
	if err := h.sessions.Destroy(c.Request.Context(), rec.ID); err != nil {
		h.log.Error().Err(err).Msg("Failed to destroy session")
	}
	http.SetCookie(c.Writer, h.sessions.ExpiredCookie())
	http.SetCookie(c.Writer, h.expiredRememberCookie())

	c.JSON(http.StatusOK, gin.H{"redirect": "/login"})
}

// Me returns the signed-in identity snapshot held by the session, plus the
// CSRF token the client needs for state-changing requests after the login
// rotation.
func (h *Handler) Me(c *gin.Context) {
	rec := currentSession(c)
	c.JSON(http.StatusOK, gin.H{
		"user_id":    rec.UserID,
		"username":   rec.Username,
		"name":       rec.Name,
		"role":       rec.Role,
		"csrf_token": rec.CSRFToken,
	})
}

// recentActivityLimit caps the events returned by RecentActivity.
const recentActivityLimit = 20

// RecentActivity returns the signed-in user's newest authentication events,
// newest first, so the profile page can show sign-ins the user did not make.
func (h *Handler) RecentActivity(c *gin.Context) {
	rec := currentSession(c)

	events, err := h.activity.RecentEvents(c.Request.Context(), rec.UserID, recentActivityLimit)
	if err != nil {
		h.serverError(c, err)
		return
	}

	out := make([]gin.H, 0, len(events))
	for _, e := range events {
		out = append(out, gin.H{
			"event":      e.Event,
			"ip_address": e.IPAddress,
			"success":    e.Success,
			"created_at": e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// finishLogin performs the trust promotion shared by every successful path:
// session regeneration, session state write, cookie issuance, and optional
// remember-me issuance.
func (h *Handler) finishLogin(c *gin.Context, rec *session.Record, outcome *service.LoginOutcome, remember bool) {
	user := outcome.User

	if err := h.promoteSession(c, rec, user); err != nil {
		h.serverError(c, err)
		return
	}

	if remember {
		token, err := h.auth.IssueRememberToken(c.Request.Context(), user)
		if err != nil {
			h.log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to issue remember token")
		} else {
			http.SetCookie(c.Writer, h.rememberCookie(token))
		}
	}
	http.SetCookie(c.Writer, h.usernameCookie(user.Username))

	c.JSON(http.StatusOK, gin.H{"redirect": outcome.Redirect})
}

// promoteSession writes the authenticated state, rotates the CSRF token,
// clears any pending context, and regenerates the session id.
func (h *Handler) promoteSession(c *gin.Context, rec *session.Record, user *repository.User) error {
	csrf, err := session.NewCSRFToken()
	if err != nil {
		return err
	}

	rec.Authenticated = true
	rec.UserID = user.ID
	rec.Username = user.Username
	rec.Name = user.Name
	rec.Role = user.Role
	rec.Pending = nil
	rec.CSRFToken = csrf

	if err := h.sessions.Regenerate(c.Request.Context(), rec); err != nil {
		return err
	}
	http.SetCookie(c.Writer, h.sessions.Cookie(rec))
	return nil
}

func (h *Handler) abandonPending(c *gin.Context, rec *session.Record) {
	rec.Pending = nil
	if err := h.sessions.Save(c.Request.Context(), rec); err != nil {
		h.log.Error().Err(err).Msg("Failed to clear pending auth context")
	}
}

func (h *Handler) failLogin(c *gin.Context, outcome *service.LoginOutcome) {
	body := gin.H{"kind": string(outcome.Kind), "message": outcome.Message}
	if outcome.Status != "" {
		body["status"] = outcome.Status
	}
	c.JSON(statusCodeFor(outcome.Kind), body)
}

func (h *Handler) serverError(c *gin.Context, err error) {
	h.log.Error().Err(err).Msg("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"kind": "server", "message": "Something went wrong. Please try again."})
}

func statusCodeFor(kind service.OutcomeKind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindInvalidCredentials:
		return http.StatusUnauthorized
	case service.KindLocked:
		return http.StatusLocked
	case service.KindStatus, service.KindRoleNotPermitted:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) rememberCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     rememberCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.cookieDomain,
		Expires:  time.Now().Add(h.rememberTTL),
		MaxAge:   int(h.rememberTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *Handler) expiredRememberCookie() *http.Cookie {
	return &http.Cookie{
		Name:     rememberCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.cookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *Handler) usernameCookie(username string) *http.Cookie {
	return &http.Cookie{
		Name:     usernameCookieName,
		Value:    username,
		Path:     "/login",
		Domain:   h.cookieDomain,
		Expires:  time.Now().Add(h.rememberTTL),
		MaxAge:   int(h.rememberTTL / time.Second),
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
