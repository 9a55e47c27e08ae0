package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fairshare/ration-tds/internal/domain"
	"github.com/fairshare/ration-tds/internal/http/response"
	"github.com/fairshare/ration-tds/pkg/logger"
)

// MyAllocations handles GET /allocations
func (h *Handlers) MyAllocations(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)
	if claims == nil || claims.UserID == 0 {
		response.BadRequest(w, "Missing userId")
		return
	}

	now := time.Now()
	month := queryInt(r, "month", int(now.Month()))
	year := queryInt(r, "year", now.Year())

	allocations, err := h.allocations.ListForMonth(r.Context(), claims.UserID, month, year)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to load allocations", "error", err, "user_id", claims.UserID)
		response.InternalError(w, "Failed to load allocations")
		return
	}

	if allocations == nil {
		allocations = []domain.MonthlyAllocation{}
	}
	writeJSON(w, http.StatusOK, allocations)
}

// UpsertAllocation handles POST /admin/allocations
func (h *Handlers) UpsertAllocation(w http.ResponseWriter, r *http.Request) {
	var req domain.UpsertAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	now := time.Now()
	if req.Month == 0 {
		req.Month = int(now.Month())
	}
	if req.Year == 0 {
		req.Year = now.Year()
	}

	allocation, err := h.allocations.Upsert(r.Context(), req.UserID, req.ItemCode, req.EligibleQuantity, req.Month, req.Year)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to upsert allocation", "error", err, "target_user", req.UserID)
		response.InternalError(w, "Failed to save allocation")
		return
	}

	writeJSON(w, http.StatusOK, allocation)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
