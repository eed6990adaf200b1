package handler

import "github.com/gin-gonic/gin"

// Register wires all routes onto the engine. Every state-changing route sits
// behind the CSRF check; authenticated routes additionally behind requireAuth.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.Health)

	login := r.Group("/", h.withSession)
	{
		login.GET("/login", h.LoginPage)
		login.POST("/login", h.requireCSRF, h.Login)
		login.POST("/login/two-factor", h.requireCSRF, h.VerifyTwoFactor)
		login.POST("/login/password", h.requireCSRF, h.ChangePassword)
	}

	authed := r.Group("/", h.withSession, h.requireAuth)
	{
		authed.GET("/me", h.Me)
		authed.GET("/me/activity", h.RecentActivity)
		authed.POST("/logout", h.requireCSRF, h.Logout)
		authed.POST("/profile/two-factor/enroll", h.requireCSRF, h.BeginTwoFactorEnrollment)
		authed.POST("/profile/two-factor/confirm", h.requireCSRF, h.ConfirmTwoFactorEnrollment)
		authed.POST("/profile/two-factor/disable", h.requireCSRF, h.DisableTwoFactor)
	}
}
