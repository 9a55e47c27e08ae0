package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fairshare/ration-tds/internal/domain"
	"github.com/fairshare/ration-tds/internal/repository"
	"github.com/fairshare/ration-tds/pkg/config"
	"github.com/fairshare/ration-tds/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- Mocks ----------

type mockCodeRepo struct {
	mu        sync.Mutex
	seq       int64
	codes     []domain.VerificationCode
	insertErr error
}

func (m *mockCodeRepo) Insert(_ context.Context, email, codeHash string, expiresAt time.Time) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.codes = append(m.codes, domain.VerificationCode{
		ID:        m.seq,
		Email:     email,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *mockCodeRepo) FindRecentUnverified(_ context.Context, email string, now time.Time) ([]domain.VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.VerificationCode
	for i := len(m.codes) - 1; i >= 0 && len(out) < domain.MaxCodeCandidates; i-- {
		c := m.codes[i]
		if !strings.EqualFold(c.Email, email) {
			continue
		}
		if c.VerifiedAt != nil || now.After(c.ExpiresAt) || c.Attempts >= domain.MaxCodeAttempts {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *mockCodeRepo) IncrementAttempts(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.codes {
		if strings.EqualFold(m.codes[i].Email, email) && m.codes[i].VerifiedAt == nil {
			m.codes[i].Attempts++
		}
	}
	return nil
}

func (m *mockCodeRepo) MarkVerified(_ context.Context, codeID int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.codes {
		if m.codes[i].ID == codeID {
			if m.codes[i].VerifiedAt != nil {
				return false, nil
			}
			at := now
			m.codes[i].VerifiedAt = &at
			return true, nil
		}
	}
	return false, nil
}

type mockUserRepo struct {
	mu          sync.Mutex
	nextID      int64
	users       map[string]*domain.User
	allocations []domain.MonthlyAllocation
	createErr   error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*domain.User)}
}

func (m *mockUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[strings.ToLower(email)]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *mockUserRepo) FindByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepo) CreateWithAllocations(_ context.Context, nu repository.NewUser, entitlements []domain.Entitlement, month, year int) (*domain.User, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u := &domain.User{
		ID:         m.nextID,
		Email:      nu.Email,
		Role:       nu.Role,
		Name:       nu.Name,
		RationCard: nu.RationCard,
		Category:   nu.Category,
		Language:   nu.Language,
		ShopID:     nu.ShopID,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	m.users[strings.ToLower(nu.Email)] = u
	for _, e := range entitlements {
		m.allocations = append(m.allocations, domain.MonthlyAllocation{
			UserID:           u.ID,
			ItemCode:         e.ItemCode,
			EligibleQuantity: e.Quantity,
			Month:            month,
			Year:             year,
		})
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) UpdateLastLogin(_ context.Context, userID int64, language string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == userID {
			at := now
			u.LastLogin = &at
			u.Language = language
		}
	}
	return nil
}

func (m *mockUserRepo) SetFlag(_ context.Context, userID int64, flagged bool, reason string, flaggedBy int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == userID {
			u.IsFlagged = flagged
			if flagged {
				u.FlagReason = &reason
				u.FlaggedBy = &flaggedBy
				at := now
				u.FlaggedAt = &at
			} else {
				u.FlagReason, u.FlaggedBy, u.FlaggedAt = nil, nil, nil
			}
			return nil
		}
	}
	return repository.ErrUserNotFound
}

func (m *mockUserRepo) SetActive(_ context.Context, userID int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == userID {
			u.IsActive = active
			return nil
		}
	}
	return repository.ErrUserNotFound
}

type mockMailer struct {
	mu       sync.Mutex
	lastTo   string
	lastCode string
	sent     int
	sendErr  error
}

func (m *mockMailer) Send(toEmail, toName, subject, text, html string) error {
	return m.sendErr
}

func (m *mockMailer) SendVerificationCode(email, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTo = email
	m.lastCode = code
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent++
	return nil
}

// ---------- Helpers ----------

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:  "test-secret",
			SessionTTL: 7 * 24 * time.Hour,
			CodeExpiry: 10 * time.Minute,
		},
		Shop: config.ShopConfig{
			DefaultShopID:   "SHOP001",
			DefaultTimeSlot: "10:00 AM",
		},
	}
}

func newTestAuthService(codes *mockCodeRepo, users *mockUserRepo, mail *mockMailer, now func() time.Time) *authService {
	return &authService{
		codes:      codes,
		users:      users,
		mailer:     mail,
		bus:        events.NoopPublisher{},
		classifier: EmailHeuristicClassifier{},
		shops:      StaticShopResolver{ShopID: "SHOP001"},
		config:     testConfig(),
		now:        now,
	}
}

// ---------- Tests ----------

func TestIssueCodeStoresHashAndSendsMail(t *testing.T) {
	codes := &mockCodeRepo{}
	users := newMockUserRepo()
	mail := &mockMailer{}
	svc := newTestAuthService(codes, users, mail, time.Now)

	err := svc.IssueCode(context.Background(), &domain.SendCodeRequest{Email: "Card@Example.com", Role: "cardholder"})
	require.NoError(t, err)

	require.Len(t, codes.codes, 1)
	stored := codes.codes[0]
	assert.Equal(t, "card@example.com", stored.Email)
	assert.NotEqual(t, mail.lastCode, stored.CodeHash, "raw code must never be stored")
	assert.Regexp(t, `^\d{6}$`, mail.lastCode)
	assert.Equal(t, "card@example.com", mail.lastTo)
}

func TestIssueCodeMailFailureKeepsCode(t *testing.T) {
	codes := &mockCodeRepo{}
	mail := &mockMailer{sendErr: errors.New("smtp down")}
	svc := newTestAuthService(codes, newMockUserRepo(), mail, time.Now)

	err := svc.IssueCode(context.Background(), &domain.SendCodeRequest{Email: "a@b.com", Role: "cardholder"})
	require.Error(t, err)
	// The code row survives a delivery failure.
	assert.Len(t, codes.codes, 1)
}

func TestVerifyCodeSucceedsExactlyOnce(t *testing.T) {
	codes := &mockCodeRepo{}
	users := newMockUserRepo()
	mail := &mockMailer{}
	svc := newTestAuthService(codes, users, mail, time.Now)
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "new.user@example.com", Role: "cardholder"}))
	code := mail.lastCode

	session, err := svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "new.user@example.com", Code: code, Role: "cardholder"})
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.NotEmpty(t, session.Token)
	assert.Contains(t, []string{domain.CategoryBPL, domain.CategoryAPL}, session.User.Category)
	assert.Equal(t, "SHOP001", session.User.ShopID)

	// Second use of the same code fails: it is no longer unverified.
	_, err = svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "new.user@example.com", Code: code, Role: "cardholder"})
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestVerifyCodeExpired(t *testing.T) {
	codes := &mockCodeRepo{}
	mail := &mockMailer{}
	now := time.Now()
	svc := newTestAuthService(codes, newMockUserRepo(), mail, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "a@b.com", Role: "cardholder"}))

	// Advance past the expiry window; even the correct code fails.
	svc.now = func() time.Time { return now.Add(11 * time.Minute) }
	_, err := svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "a@b.com", Code: mail.lastCode, Role: "cardholder"})
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestVerifyCodeWrongCodeIncrementsAttempts(t *testing.T) {
	codes := &mockCodeRepo{}
	mail := &mockMailer{}
	svc := newTestAuthService(codes, newMockUserRepo(), mail, time.Now)
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "a@b.com", Role: "cardholder"}))
	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "a@b.com", Role: "cardholder"}))

	wrong := "000000"
	if mail.lastCode == wrong {
		wrong = "000001"
	}
	_, err := svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "a@b.com", Code: wrong, Role: "cardholder"})
	assert.ErrorIs(t, err, ErrInvalidCode)

	// The penalty hits every outstanding code for the email.
	for _, c := range codes.codes {
		assert.Equal(t, 1, c.Attempts)
		assert.Nil(t, c.VerifiedAt)
	}
}

func TestVerifyCodeLockoutAfterMaxAttempts(t *testing.T) {
	codes := &mockCodeRepo{}
	mail := &mockMailer{}
	svc := newTestAuthService(codes, newMockUserRepo(), mail, time.Now)
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "a@b.com", Role: "cardholder"}))
	correct := mail.lastCode

	wrong := "000000"
	if wrong == correct {
		wrong = "000001"
	}
	for i := 0; i < domain.MaxCodeAttempts; i++ {
		_, err := svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "a@b.com", Code: wrong, Role: "cardholder"})
		require.ErrorIs(t, err, ErrInvalidCode)
	}

	// The attempt cap drops the code from the candidate set; even the
	// correct code no longer verifies.
	_, err := svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "a@b.com", Code: correct, Role: "cardholder"})
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestVerifyCodeProvisioningFailureIsFatal(t *testing.T) {
	codes := &mockCodeRepo{}
	users := newMockUserRepo()
	users.createErr = errors.New("insert failed")
	mail := &mockMailer{}
	svc := newTestAuthService(codes, users, mail, time.Now)
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "a@b.com", Role: "cardholder"}))
	_, err := svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "a@b.com", Code: mail.lastCode, Role: "cardholder"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCode)
	assert.NotErrorIs(t, err, ErrCodeNotFound)
	assert.Contains(t, err.Error(), "failed to provision user")
	assert.Empty(t, users.users)
	assert.Empty(t, users.allocations)
}

func TestVerifyCodeOlderStillValidCodeWins(t *testing.T) {
	codes := &mockCodeRepo{}
	mail := &mockMailer{}
	svc := newTestAuthService(codes, newMockUserRepo(), mail, time.Now)
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "a@b.com", Role: "cardholder"}))
	first := mail.lastCode
	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "a@b.com", Role: "cardholder"}))

	// Submitting the older, still-unexpired code succeeds.
	session, err := svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "a@b.com", Code: first, Role: "cardholder"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
}

func TestFirstVerificationProvisionsUserAndAllocations(t *testing.T) {
	codes := &mockCodeRepo{}
	users := newMockUserRepo()
	mail := &mockMailer{}
	fixed := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	svc := newTestAuthService(codes, users, mail, func() time.Time { return fixed })
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "bpl.family@example.com", Role: "cardholder"}))
	session, err := svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "bpl.family@example.com", Code: mail.lastCode, Role: "cardholder"})
	require.NoError(t, err)

	assert.Equal(t, domain.CategoryBPL, session.User.Category)
	assert.True(t, strings.HasPrefix(session.User.RationCard, domain.CategoryBPL))
	require.Len(t, users.allocations, 4)
	for _, a := range users.allocations {
		assert.Equal(t, session.User.ID, a.UserID)
		assert.Equal(t, 3, a.Month)
		assert.Equal(t, 2026, a.Year)
	}

	// Second login: same user, no extra rows.
	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "bpl.family@example.com", Role: "cardholder"}))
	session2, err := svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "bpl.family@example.com", Code: mail.lastCode, Role: "cardholder"})
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, session2.User.ID)
	assert.Len(t, users.users, 1)
	assert.Len(t, users.allocations, 4)
}

func TestAdminProvisioningSkipsAllocations(t *testing.T) {
	codes := &mockCodeRepo{}
	users := newMockUserRepo()
	mail := &mockMailer{}
	svc := newTestAuthService(codes, users, mail, time.Now)
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "admin@example.com", Role: "admin"}))
	session, err := svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "admin@example.com", Code: mail.lastCode, Role: "admin"})
	require.NoError(t, err)

	assert.Equal(t, domain.RoleAdmin, session.User.Role)
	assert.Empty(t, users.allocations)
}

func TestVerifyCodeRefusesBlockedAccounts(t *testing.T) {
	codes := &mockCodeRepo{}
	users := newMockUserRepo()
	mail := &mockMailer{}
	svc := newTestAuthService(codes, users, mail, time.Now)
	ctx := context.Background()

	// Provision first.
	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "a@b.com", Role: "cardholder"}))
	session, err := svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "a@b.com", Code: mail.lastCode, Role: "cardholder"})
	require.NoError(t, err)

	require.NoError(t, users.SetFlag(ctx, session.User.ID, true, "duplicate card", 99, time.Now()))

	require.NoError(t, svc.IssueCode(ctx, &domain.SendCodeRequest{Email: "a@b.com", Role: "cardholder"}))
	_, err = svc.VerifyCode(ctx, &domain.VerifyCodeRequest{Email: "a@b.com", Code: mail.lastCode, Role: "cardholder"})
	assert.ErrorIs(t, err, ErrAccountBlocked)
}

func TestVerifyCodeNoOutstandingCodes(t *testing.T) {
	svc := newTestAuthService(&mockCodeRepo{}, newMockUserRepo(), &mockMailer{}, time.Now)

	_, err := svc.VerifyCode(context.Background(), &domain.VerifyCodeRequest{Email: "a@b.com", Code: "123456", Role: "cardholder"})
	assert.ErrorIs(t, err, ErrCodeNotFound)
}
