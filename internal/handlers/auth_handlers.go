package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairshare/ration-tds/internal/domain"
	"github.com/fairshare/ration-tds/internal/http/response"
	"github.com/fairshare/ration-tds/internal/service"
	"github.com/fairshare/ration-tds/pkg/logger"
)

// SendCode handles POST /auth/send-code
func (h *Handlers) SendCode(w http.ResponseWriter, r *http.Request) {
	var req domain.SendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.authService.IssueCode(r.Context(), &req); err != nil {
		logger.ErrorContext(r.Context(), "Failed to issue verification code", "error", err, "email", req.Email)
		response.InternalError(w, "Failed to send verification code")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Verification code sent",
	})
}

// VerifyCode handles POST /auth/verify-code
func (h *Handlers) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	session, err := h.authService.VerifyCode(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCode), errors.Is(err, service.ErrCodeNotFound):
			response.Unauthorized(w, err.Error())
		case errors.Is(err, service.ErrAccountBlocked):
			response.Forbidden(w, "Account is not permitted to login")
		default:
			logger.ErrorContext(r.Context(), "Failed to verify code", "error", err, "email", req.Email)
			response.InternalError(w, "Server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   session.Token,
		"user":    session.User,
	})
}
