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

var (
	// ErrTokenAlreadyIssued means the user already holds a token for the day.
	ErrTokenAlreadyIssued = errors.New("user already has a token for this date")
	// ErrPositionConflict means two allocations collided on the same queue
	// position. Callers retry a bounded number of times.
	ErrPositionConflict = errors.New("queue position conflict")
)

type TokenRepository interface {
	// Issue assigns the next queue position for (shopID, date) and inserts
	// the token in one transaction. The position comes from an atomic
	// per-shop-per-day counter, so concurrent calls never observe the same
	// value.
	Issue(ctx context.Context, t *domain.QueueToken) (*domain.QueueToken, error)
	FindForUserOnDate(ctx context.Context, userID int64, date string) (*domain.QueueToken, error)
	CountForShopOnDate(ctx context.Context, shopID, date string) (int, error)
}

type tokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepository{pool: pool}
}

func (r *tokenRepository) Issue(ctx context.Context, t *domain.QueueToken) (*domain.QueueToken, error) {
	const nextPosition = `
		INSERT INTO queue_counters (shop_id, token_date, next_position)
		VALUES ($1, $2, 1)
		ON CONFLICT (shop_id, token_date) DO UPDATE
		SET next_position = queue_counters.next_position + 1
		RETURNING next_position`

	const insertToken = `
		INSERT INTO tokens (id, shop_id, user_id, token_date, time_slot, queue_position, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// The counter row is locked for the rest of the transaction, so position
	// assignment is serialized per (shop, date).
	if err := tx.QueryRow(ctx, nextPosition, t.ShopID, t.Date).Scan(&t.QueuePosition); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, insertToken,
		t.ID, t.ShopID, t.UserID, t.Date, t.TimeSlot, t.QueuePosition, t.Status,
	).Scan(&t.CreatedAt)
	if err != nil {
		return nil, classifyTokenInsertError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func classifyTokenInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "tokens_user_date_key":
			return ErrTokenAlreadyIssued
		case "tokens_shop_date_position_key":
			return ErrPositionConflict
		}
	}
	return err
}

func (r *tokenRepository) FindForUserOnDate(ctx context.Context, userID int64, date string) (*domain.QueueToken, error) {
	const q = `
		SELECT id, shop_id, user_id, token_date, time_slot, queue_position, status, created_at
		FROM tokens
		WHERE user_id = $1 AND token_date = $2
		ORDER BY created_at DESC
		LIMIT 1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var t domain.QueueToken
	err := r.pool.QueryRow(ctx, q, userID, date).Scan(
		&t.ID, &t.ShopID, &t.UserID, &t.Date, &t.TimeSlot, &t.QueuePosition, &t.Status, &t.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tokenRepository) CountForShopOnDate(ctx context.Context, shopID, date string) (int, error) {
	const q = `SELECT count(*) FROM tokens WHERE shop_id = $1 AND token_date = $2`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var count int
	err := r.pool.QueryRow(ctx, q, shopID, date).Scan(&count)
	return count, err
}
