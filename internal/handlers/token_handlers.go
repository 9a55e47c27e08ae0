package handlers

import (
	"errors"
	"net/http"

	"github.com/fairshare/ration-tds/internal/http/response"
	"github.com/fairshare/ration-tds/internal/service"
	"github.com/fairshare/ration-tds/pkg/logger"
)

// RequestToken handles POST /tokens
func (h *Handlers) RequestToken(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)
	if claims == nil || claims.UserID == 0 || claims.ShopID == "" {
		response.BadRequest(w, "Missing userId or shopId")
		return
	}

	token, err := h.tokenService.RequestToken(r.Context(), claims.UserID, claims.ShopID, "")
	if err != nil {
		if errors.Is(err, service.ErrTokenAlreadyIssued) {
			response.Conflict(w, "You already have a token for today")
			return
		}
		logger.ErrorContext(r.Context(), "Failed to issue queue token", "error", err, "shop_id", claims.ShopID)
		response.InternalError(w, "Failed to create token")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":        token.ID,
		"timeslot":  token.TimeSlot,
		"date":      token.Date,
		"position":  token.QueuePosition,
		"createdAt": token.CreatedAt,
	})
}

// QueueDepth handles GET /admin/queue
func (h *Handlers) QueueDepth(w http.ResponseWriter, r *http.Request) {
	shopID := r.URL.Query().Get("shop_id")
	if shopID == "" {
		shopID = h.config.Shop.DefaultShopID
	}

	count, err := h.tokenService.QueueDepth(r.Context(), shopID)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to count queue tokens", "error", err, "shop_id", shopID)
		response.InternalError(w, "Failed to load queue depth")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shop_id": shopID,
		"count":   count,
	})
}

// MyToken handles GET /tokens/my
func (h *Handlers) MyToken(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)
	if claims == nil || claims.UserID == 0 {
		response.BadRequest(w, "Missing userId")
		return
	}

	token, err := h.tokenService.TokenForToday(r.Context(), claims.UserID)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to load token", "error", err, "user_id", claims.UserID)
		response.InternalError(w, "Failed to load token")
		return
	}
	if token == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        token.ID,
		"timeslot":  token.TimeSlot,
		"date":      token.Date,
		"position":  token.QueuePosition,
		"createdAt": token.CreatedAt,
	})
}
