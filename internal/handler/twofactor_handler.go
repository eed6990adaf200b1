package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/workbridge-hq/hr-portal/internal/service"
)

// BeginTwoFactorEnrollment hands out a candidate secret and otpauth URI.
// Nothing is persisted until the user confirms with a live code.
func (h *Handler) BeginTwoFactorEnrollment(c *gin.Context) {
	rec := currentSession(c)

	enrollment, err := h.twoFactor.BeginEnrollment(c.Request.Context(), rec.UserID)
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"secret":      enrollment.Secret,
		"otpauth_uri": enrollment.URI,
	})
}

type confirmEnrollmentForm struct {
	Secret string `form:"secret" json:"secret"`
	Code   string `form:"code" json:"code"`
}

// ConfirmTwoFactorEnrollment enables 2FA once the user proves possession of
// the secret. The recovery codes in the response are shown exactly once.
func (h *Handler) ConfirmTwoFactorEnrollment(c *gin.Context) {
	rec := currentSession(c)

	var form confirmEnrollmentForm
	if err := c.ShouldBind(&form); err != nil || form.Secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation", "message": "Secret and code are required."})
		return
	}

	codes, err := h.twoFactor.ConfirmEnrollment(c.Request.Context(), rec.UserID, form.Secret, form.Code)
	if errors.Is(err, service.ErrInvalidCode) {
		c.JSON(http.StatusUnauthorized, gin.H{"kind": "invalid_credentials", "message": "Invalid verification code."})
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovery_codes": codes})
}

type disableTwoFactorForm struct {
	Password string `form:"password" json:"password"`
}

// DisableTwoFactor turns 2FA off after re-verifying the current password.
func (h *Handler) DisableTwoFactor(c *gin.Context) {
	rec := currentSession(c)

	var form disableTwoFactorForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "validation", "message": "Invalid request body."})
		return
	}

	err := h.twoFactor.Disable(c.Request.Context(), rec.UserID, form.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"kind": "invalid_credentials", "message": "Current password is incorrect."})
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disabled": true})
}
