package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fairshare/ration-tds/internal/domain"
	"github.com/fairshare/ration-tds/internal/http/response"
	"github.com/fairshare/ration-tds/internal/repository"
	"github.com/fairshare/ration-tds/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// GetUser handles GET /admin/users/{id}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid user id")
		return
	}

	user, err := h.users.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.NotFound(w, "User not found")
			return
		}
		logger.ErrorContext(r.Context(), "Failed to load user", "error", err, "target_user", id)
		response.InternalError(w, "Failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// FlagUser handles PATCH /admin/users/{id}/flag
func (h *Handlers) FlagUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid user id")
		return
	}

	var req domain.FlagUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	claims := getClaims(r)
	if err := h.users.SetFlag(r.Context(), id, req.Flagged, req.Reason, claims.UserID, time.Now()); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.NotFound(w, "User not found")
			return
		}
		logger.ErrorContext(r.Context(), "Failed to update user flag", "error", err, "target_user", id)
		response.InternalError(w, "Failed to update user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// SetUserActive handles PATCH /admin/users/{id}/active
func (h *Handlers) SetUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid user id")
		return
	}

	var req domain.SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.users.SetActive(r.Context(), id, req.Active); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.NotFound(w, "User not found")
			return
		}
		logger.ErrorContext(r.Context(), "Failed to update user active state", "error", err, "target_user", id)
		response.InternalError(w, "Failed to update user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
