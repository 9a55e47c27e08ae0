package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fairshare/ration-tds/internal/domain"
	"github.com/fairshare/ration-tds/internal/repository"
	"github.com/fairshare/ration-tds/pkg/config"
	"github.com/fairshare/ration-tds/pkg/events"
	"github.com/fairshare/ration-tds/pkg/logger"
	"github.com/google/uuid"
)

// ErrTokenAlreadyIssued is returned when a user requests a second queue
// token for the same day.
var ErrTokenAlreadyIssued = repository.ErrTokenAlreadyIssued

// positionRetries bounds how often a conflicting allocation is retried
// before surfacing a server error.
const positionRetries = 3

type TokenService interface {
	// RequestToken assigns the caller the next queue position at their shop
	// for today. slot may be empty; the configured default slot is used.
	RequestToken(ctx context.Context, userID int64, shopID, slot string) (*domain.QueueToken, error)
	// TokenForToday returns the caller's token for today, or nil.
	TokenForToday(ctx context.Context, userID int64) (*domain.QueueToken, error)
	// QueueDepth reports how many tokens a shop has issued today.
	QueueDepth(ctx context.Context, shopID string) (int, error)
}

type tokenService struct {
	tokens repository.TokenRepository
	bus    events.Publisher
	config *config.Config
	now    func() time.Time
}

func NewTokenService(tokens repository.TokenRepository, bus events.Publisher, cfg *config.Config) TokenService {
	return &tokenService{
		tokens: tokens,
		bus:    bus,
		config: cfg,
		now:    time.Now,
	}
}

func (s *tokenService) RequestToken(ctx context.Context, userID int64, shopID, slot string) (*domain.QueueToken, error) {
	if userID == 0 || shopID == "" {
		return nil, fmt.Errorf("missing user or shop")
	}
	if slot == "" {
		slot = s.config.Shop.DefaultTimeSlot
	}

	now := s.now()
	date := domain.QueueDate(now)

	existing, err := s.tokens.FindForUserOnDate(ctx, userID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing token: %w", err)
	}
	if existing != nil {
		return nil, ErrTokenAlreadyIssued
	}

	var token *domain.QueueToken
	for attempt := 0; ; attempt++ {
		candidate := &domain.QueueToken{
			ID:       newTokenID(now),
			ShopID:   shopID,
			UserID:   userID,
			Date:     date,
			TimeSlot: slot,
			Status:   domain.TokenStatusActive,
		}

		token, err = s.tokens.Issue(ctx, candidate)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrTokenAlreadyIssued) {
			// The uniqueness constraint caught a concurrent duplicate the
			// pre-check missed.
			return nil, ErrTokenAlreadyIssued
		}
		if errors.Is(err, repository.ErrPositionConflict) && attempt < positionRetries {
			logger.WarnContext(ctx, "Queue position conflict, retrying",
				"shop_id", shopID, "date", date, "attempt", attempt+1)
			continue
		}
		return nil, fmt.Errorf("failed to issue queue token: %w", err)
	}

	if err := s.bus.Publish(ctx, events.TokenIssued, events.TokenIssuedEvent{
		TokenID:  token.ID,
		ShopID:   token.ShopID,
		UserID:   token.UserID,
		Date:     token.Date,
		Position: token.QueuePosition,
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish token issued event", "error", err)
	}

	return token, nil
}

func (s *tokenService) TokenForToday(ctx context.Context, userID int64) (*domain.QueueToken, error) {
	if userID == 0 {
		return nil, fmt.Errorf("missing user")
	}
	return s.tokens.FindForUserOnDate(ctx, userID, domain.QueueDate(s.now()))
}

func (s *tokenService) QueueDepth(ctx context.Context, shopID string) (int, error) {
	if shopID == "" {
		return 0, fmt.Errorf("missing shop")
	}
	return s.tokens.CountForShopOnDate(ctx, shopID, domain.QueueDate(s.now()))
}

// newTokenID combines a millisecond timestamp with a random suffix so ids
// stay unique under concurrent issuance.
func newTokenID(now time.Time) string {
	return fmt.Sprintf("T%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
