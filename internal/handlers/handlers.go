package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fairshare/ration-tds/internal/http/response"
	"github.com/fairshare/ration-tds/internal/repository"
	"github.com/fairshare/ration-tds/internal/service"
	"github.com/fairshare/ration-tds/pkg/auth"
	"github.com/fairshare/ration-tds/pkg/config"
	"github.com/fairshare/ration-tds/pkg/logger"
)

type ctxKey string

const ctxClaims ctxKey = "claims"

type Handlers struct {
	authService   service.AuthService
	tokenService  service.TokenService
	allocations   repository.AllocationRepository
	users         repository.UserRepository
	rateLimitRepo repository.RateLimitRepository
	config        *config.Config
}

func New(
	authService service.AuthService,
	tokenService service.TokenService,
	allocations repository.AllocationRepository,
	users repository.UserRepository,
	rateLimitRepo repository.RateLimitRepository,
	cfg *config.Config,
) *Handlers {
	return &Handlers{
		authService:   authService,
		tokenService:  tokenService,
		allocations:   allocations,
		users:         users,
		rateLimitRepo: rateLimitRepo,
		config:        cfg,
	}
}

// RequireJWT authenticates the bearer credential and, when requiredRole is
// non-empty, authorizes by role. Admins pass any role gate.
func (h *Handlers) RequireJWT(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.WriteError(w, http.StatusUnauthorized, "Missing or invalid authorization header", response.CodeUnauthorized)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.Parse(token, h.config.Auth.JWTSecret)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "Invalid token", response.CodeInvalidToken)
				return
			}

			if requiredRole != "" && claims.Role != requiredRole && claims.Role != "admin" {
				response.Forbidden(w, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), logger.UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, logger.ShopIDKey, claims.ShopID)
			ctx = context.WithValue(ctx, ctxClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CodeRequestRateLimit throttles code issuance per client IP.
func (h *Handlers) CodeRequestRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)
			key := "send_code:" + clientIP

			allowed, err := h.rateLimitRepo.CheckRateLimit(r.Context(), key, 5, time.Minute)
			if err != nil {
				logger.ErrorContext(r.Context(), "Rate limit check failed", "error", err)
				// Allow request on error (fail open)
			} else if !allowed {
				response.RateLimit(w, "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Helper functions
func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(ctxClaims).(*auth.Claims); ok {
		return claims
	}
	return nil
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
