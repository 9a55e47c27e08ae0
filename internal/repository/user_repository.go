package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fairshare/ration-tds/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

// NewUser carries the fields for first-time provisioning. The generated
// identity and timestamps come back from the database.
type NewUser struct {
	Email      string
	Role       string
	Name       string
	RationCard string
	Category   string
	Language   string
	ShopID     string
}

type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	// CreateWithAllocations inserts the user row and, for cardholders, the
	// default entitlement rows for the given month/year in one transaction.
	// A failure anywhere leaves no partial state.
	CreateWithAllocations(ctx context.Context, nu NewUser, entitlements []domain.Entitlement, month, year int) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, userID int64, language string, now time.Time) error
	SetFlag(ctx context.Context, userID int64, flagged bool, reason string, flaggedBy int64, now time.Time) error
	SetActive(ctx context.Context, userID int64, active bool) error
}

type userRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, email, role, name, ration_card, category, language, shop_id,
	is_active, is_flagged, flag_reason, flagged_by, flagged_at, last_login, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Role, &u.Name, &u.RationCard, &u.Category, &u.Language, &u.ShopID,
		&u.IsActive, &u.IsFlagged, &u.FlagReason, &u.FlaggedBy, &u.FlaggedAt, &u.LastLogin, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanUser(r.pool.QueryRow(ctx, q, email))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (r *userRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanUser(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (r *userRepository) CreateWithAllocations(ctx context.Context, nu NewUser, entitlements []domain.Entitlement, month, year int) (*domain.User, error) {
	const insertUser = `
		INSERT INTO users (email, role, name, ration_card, category, language, shop_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + userColumns

	const insertAllocation = `
		INSERT INTO monthly_allocations (user_id, item_code, eligible_quantity, month, year)
		VALUES ($1, $2, $3, $4, $5)`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	u, err := scanUser(tx.QueryRow(ctx, insertUser,
		nu.Email, nu.Role, nu.Name, nu.RationCard, nu.Category, nu.Language, nu.ShopID))
	if err != nil {
		return nil, err
	}

	for _, e := range entitlements {
		if _, err := tx.Exec(ctx, insertAllocation, u.ID, e.ItemCode, e.Quantity, month, year); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *userRepository) UpdateLastLogin(ctx context.Context, userID int64, language string, now time.Time) error {
	const q = `UPDATE users SET last_login = $2, language = $3 WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, userID, now, language)
	return err
}

func (r *userRepository) SetFlag(ctx context.Context, userID int64, flagged bool, reason string, flaggedBy int64, now time.Time) error {
	const flagQ = `
		UPDATE users
		SET is_flagged = true, flag_reason = $2, flagged_by = $3, flagged_at = $4
		WHERE id = $1`
	const unflagQ = `
		UPDATE users
		SET is_flagged = false, flag_reason = NULL, flagged_by = NULL, flagged_at = NULL
		WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var tag pgconn.CommandTag
	var err error
	if flagged {
		tag, err = r.pool.Exec(ctx, flagQ, userID, reason, flaggedBy, now)
	} else {
		tag, err = r.pool.Exec(ctx, unflagQ, userID)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepository) SetActive(ctx context.Context, userID int64, active bool) error {
	const q = `UPDATE users SET is_active = $2 WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, userID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
