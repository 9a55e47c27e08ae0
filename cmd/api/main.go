package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairshare/ration-tds/internal/handlers"
	"github.com/fairshare/ration-tds/internal/mailer"
	"github.com/fairshare/ration-tds/internal/repository"
	"github.com/fairshare/ration-tds/internal/service"
	"github.com/fairshare/ration-tds/pkg/config"
	"github.com/fairshare/ration-tds/pkg/database"
	"github.com/fairshare/ration-tds/pkg/events"
	"github.com/fairshare/ration-tds/pkg/logger"
	mw "github.com/fairshare/ration-tds/pkg/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()

	if err := database.Migrate(ctx, cfg.Database.URL); err != nil {
		logger.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Event bus
	var bus events.Publisher = events.NoopPublisher{}
	if cfg.NATS.Enabled {
		natsBus, err := events.NewNATSEventBus(cfg.NATS.URL)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsBus.Close()
		bus = natsBus
	}

	// Mailer selection
	var mailSvc mailer.Service
	switch {
	case cfg.Email.DevMode:
		mailSvc = mailer.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		mailSvc = mailer.NewMailerSend(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.SMTPFrom, cfg.Email.SendTimeout)
	default:
		mailSvc = mailer.NewSMTPMailer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPFrom,
			cfg.Email.SMTPUser, cfg.Email.SMTPPass, cfg.Email.SMTPUseTLS)
	}

	// Repositories
	codeRepo := repository.NewCodeRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	tokenRepo := repository.NewTokenRepository(pool)
	allocationRepo := repository.NewAllocationRepository(pool)
	rateLimitRepo := repository.NewRateLimitRepository(pool)

	// Periodic cleanup of expired rate limit rows
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if removed, err := rateLimitRepo.CleanupExpired(ctx); err != nil {
				logger.Warn("Rate limit cleanup failed", "error", err)
			} else if removed > 0 {
				logger.Debug("Rate limit cleanup", "removed", removed)
			}
		}
	}()

	// Services
	authService := service.NewAuthService(
		codeRepo,
		userRepo,
		mailSvc,
		bus,
		service.EmailHeuristicClassifier{},
		service.StaticShopResolver{ShopID: cfg.Shop.DefaultShopID},
		cfg,
	)
	tokenService := service.NewTokenService(tokenRepo, bus, cfg)

	// Handlers
	h := handlers.New(authService, tokenService, allocationRepo, userRepo, rateLimitRepo, cfg)

	// Router
	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(h.CodeRequestRateLimit()).Post("/send-code", h.SendCode)
			r.Post("/verify-code", h.VerifyCode)
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Use(h.RequireJWT("cardholder"))
			r.Post("/", h.RequestToken)
			r.Get("/my", h.MyToken)
		})

		r.Route("/allocations", func(r chi.Router) {
			r.Use(h.RequireJWT(""))
			r.Get("/", h.MyAllocations)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireJWT("admin"))
			r.Get("/queue", h.QueueDepth)
			r.Get("/users/{id}", h.GetUser)
			r.Patch("/users/{id}/flag", h.FlagUser)
			r.Patch("/users/{id}/active", h.SetUserActive)
			r.Post("/allocations", h.UpsertAllocation)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down API server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	logger.Info("Starting API server", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
