package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/workbridge-hq/hr-portal/internal/session"
)

const sessionContextKey = "hrportal.session"

// withSession resolves the session cookie, enforcing idle and absolute
// timeouts, and attaches the record to the request context. Requests without
// a live session get a fresh anonymous one.
func (h *Handler) withSession(c *gin.Context) {
	var rec *session.Record

	if cookie, err := c.Request.Cookie(h.sessions.CookieName()); err == nil && cookie.Value != "" {
		if loaded, err := h.sessions.Load(c.Request.Context(), cookie.Value, time.Now()); err == nil {
			rec = loaded
		}
	}

	if rec == nil {
		started, err := h.sessions.Start(c.Request.Context())
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to start session")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"kind": "server", "message": "Something went wrong. Please try again.",
			})
			return
		}
		rec = started
		http.SetCookie(c.Writer, h.sessions.Cookie(rec))
	}

	c.Set(sessionContextKey, rec)
	c.Next()
}

// currentSession returns the record attached by withSession.
func currentSession(c *gin.Context) *session.Record {
	rec, _ := c.MustGet(sessionContextKey).(*session.Record)
	return rec
}

// requireCSRF rejects state-changing submissions whose anti-forgery token
// does not match the session's, before any business logic runs.
func (h *Handler) requireCSRF(c *gin.Context) {
	rec := currentSession(c)

	token := c.GetHeader("X-CSRF-Token")
	if token == "" {
		token = c.PostForm("csrf_token")
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(rec.CSRFToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"kind": "csrf", "message": "Invalid or missing request token.",
		})
		return
	}
	c.Next()
}

// requireAuth gates authenticated actions. The session timeouts were already
// enforced by withSession.
func (h *Handler) requireAuth(c *gin.Context) {
	rec := currentSession(c)
	if !rec.Authenticated {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"kind": "auth", "message": "Sign in to continue.",
		})
		return
	}
	c.Next()
}
