package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/fairshare/ration-tds/internal/domain"
	"github.com/fairshare/ration-tds/internal/mailer"
	"github.com/fairshare/ration-tds/internal/repository"
	"github.com/fairshare/ration-tds/pkg/auth"
	"github.com/fairshare/ration-tds/pkg/config"
	"github.com/fairshare/ration-tds/pkg/events"
	"github.com/fairshare/ration-tds/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCode and ErrCodeNotFound are deliberately close in wording;
	// the caller must not learn whether a code exists, is expired, or was
	// simply wrong.
	ErrInvalidCode    = errors.New("invalid code")
	ErrCodeNotFound   = errors.New("invalid or expired code")
	ErrAccountBlocked = errors.New("account is not permitted to login")
)

const defaultUserName = "राम कुमार / Ram Kumar"

type AuthService interface {
	// IssueCode generates, stores, and emails a one-time login code. A mail
	// delivery failure is reported as an error but the stored code stays
	// usable until it expires.
	IssueCode(ctx context.Context, req *domain.SendCodeRequest) error
	// VerifyCode checks a submitted code, provisions a first-time user, and
	// mints a signed session credential.
	VerifyCode(ctx context.Context, req *domain.VerifyCodeRequest) (*domain.SessionResponse, error)
}

type authService struct {
	codes      repository.CodeRepository
	users      repository.UserRepository
	mailer     mailer.Service
	bus        events.Publisher
	classifier CategoryClassifier
	shops      ShopResolver
	config     *config.Config
	now        func() time.Time
}

func NewAuthService(
	codes repository.CodeRepository,
	users repository.UserRepository,
	mailSvc mailer.Service,
	bus events.Publisher,
	classifier CategoryClassifier,
	shops ShopResolver,
	cfg *config.Config,
) AuthService {
	return &authService{
		codes:      codes,
		users:      users,
		mailer:     mailSvc,
		bus:        bus,
		classifier: classifier,
		shops:      shops,
		config:     cfg,
		now:        time.Now,
	}
}

func (s *authService) IssueCode(ctx context.Context, req *domain.SendCodeRequest) error {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	codeHash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	expiresAt := s.now().Add(s.config.Auth.CodeExpiry)
	if err := s.codes.Insert(ctx, req.Email, string(codeHash), expiresAt); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}

	if err := s.bus.Publish(ctx, events.CodeIssued, events.CodeIssuedEvent{
		Email:     req.Email,
		Role:      req.Role,
		ExpiresAt: expiresAt,
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish code issued event", "error", err)
	}

	// The raw code is echoed at debug level only; it is never persisted.
	logger.DebugContext(ctx, "Verification code issued", "email", req.Email, "code", code)

	if err := s.mailer.SendVerificationCode(req.Email, code, s.config.Auth.CodeExpiry); err != nil {
		logger.ErrorContext(ctx, "Failed to send verification code email", "error", err, "email", req.Email)
		// The code stays valid; the user may still receive it through
		// another channel, or it simply expires unused.
		return fmt.Errorf("failed to send verification email: %w", err)
	}

	return nil
}

func (s *authService) VerifyCode(ctx context.Context, req *domain.VerifyCodeRequest) (*domain.SessionResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	now := s.now()
	candidates, err := s.codes.FindRecentUnverified(ctx, req.Email, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification codes: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrCodeNotFound
	}

	// Newest first; an older still-valid code the user re-submits also wins.
	var matched *domain.VerificationCode
	for i := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(candidates[i].CodeHash), []byte(req.Code)) == nil {
			matched = &candidates[i]
			break
		}
	}

	if matched == nil {
		if err := s.codes.IncrementAttempts(ctx, req.Email); err != nil {
			logger.ErrorContext(ctx, "Failed to increment code attempts", "error", err, "email", req.Email)
		}
		return nil, ErrInvalidCode
	}

	consumed, err := s.codes.MarkVerified(ctx, matched.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification code: %w", err)
	}
	if !consumed {
		// A concurrent request won the race for this code.
		return nil, ErrCodeNotFound
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if user == nil {
		user, err = s.provisionUser(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to provision user: %w", err)
		}
	} else {
		if !user.IsActive || user.IsFlagged {
			return nil, ErrAccountBlocked
		}
		if err := s.users.UpdateLastLogin(ctx, user.ID, req.Language, now); err != nil {
			logger.WarnContext(ctx, "Failed to update last login", "error", err, "user_id", user.ID)
		}
		user.Language = req.Language
	}

	token, err := auth.NewSessionToken(
		user.ID,
		user.Email,
		user.Role,
		user.ShopID,
		s.config.Auth.JWTSecret,
		s.config.Auth.SessionTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session token: %w", err)
	}

	return &domain.SessionResponse{
		Token:     token,
		ExpiresIn: int64(s.config.Auth.SessionTTL.Seconds()),
		User:      user.ToUserInfo(),
	}, nil
}

// provisionUser creates the user row and, for cardholders, the default
// entitlement allocations for the current month in a single transaction.
func (s *authService) provisionUser(ctx context.Context, req *domain.VerifyCodeRequest) (*domain.User, error) {
	category := s.classifier.Classify(req.Email)
	rationCard, err := generateRationCard(category)
	if err != nil {
		return nil, err
	}

	nu := repository.NewUser{
		Email:      req.Email,
		Role:       req.Role,
		Name:       defaultUserName,
		RationCard: rationCard,
		Category:   category,
		Language:   req.Language,
		ShopID:     s.shops.Resolve(req.Email),
	}

	var entitlements []domain.Entitlement
	if req.Role == domain.RoleCardholder {
		entitlements = domain.DefaultEntitlements
	}

	now := s.now()
	user, err := s.users.CreateWithAllocations(ctx, nu, entitlements, int(now.Month()), now.Year())
	if err != nil {
		return nil, err
	}

	if err := s.bus.Publish(ctx, events.UserProvisioned, events.UserProvisionedEvent{
		UserID:     user.ID,
		Email:      user.Email,
		Role:       user.Role,
		ShopID:     user.ShopID,
		Category:   user.Category,
		RationCard: user.RationCard,
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish user provisioned event", "error", err)
	}

	return user, nil
}

// generateCode samples a 6-digit code uniformly from 100000-999999.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func generateRationCard(category string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%06d", category, n.Int64()+100000), nil
}
