package repository

import (
	"context"
	"time"

	"github.com/fairshare/ration-tds/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CodeRepository interface {
	// Insert stores a hashed one-time code for an email.
	Insert(ctx context.Context, email, codeHash string, expiresAt time.Time) error
	// FindRecentUnverified returns the newest outstanding codes for an email,
	// at most domain.MaxCodeCandidates, excluding expired, consumed, and
	// attempt-capped rows. Rows are never deleted; dead ones just stop
	// matching here.
	FindRecentUnverified(ctx context.Context, email string, now time.Time) ([]domain.VerificationCode, error)
	// IncrementAttempts bumps the attempt counter on every outstanding
	// unverified code for an email. The penalty is coarse on purpose.
	IncrementAttempts(ctx context.Context, email string) error
	// MarkVerified consumes a code. It succeeds at most once per row; a
	// false return means another request already consumed it.
	MarkVerified(ctx context.Context, codeID int64, now time.Time) (bool, error)
}

type codeRepository struct {
	pool *pgxpool.Pool
}

func NewCodeRepository(pool *pgxpool.Pool) CodeRepository {
	return &codeRepository{pool: pool}
}

func (r *codeRepository) Insert(ctx context.Context, email, codeHash string, expiresAt time.Time) error {
	const q = `
		INSERT INTO verification_codes (email, code_hash, expires_at)
		VALUES ($1, $2, $3)`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, email, codeHash, expiresAt)
	return err
}

func (r *codeRepository) FindRecentUnverified(ctx context.Context, email string, now time.Time) ([]domain.VerificationCode, error) {
	const q = `
		SELECT id, email, code_hash, expires_at, attempts, verified_at, created_at
		FROM verification_codes
		WHERE lower(email) = lower($1)
		  AND verified_at IS NULL
		  AND expires_at > $2
		  AND attempts < $3
		ORDER BY created_at DESC
		LIMIT $4`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, email, now, domain.MaxCodeAttempts, domain.MaxCodeCandidates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []domain.VerificationCode
	for rows.Next() {
		var c domain.VerificationCode
		if err := rows.Scan(&c.ID, &c.Email, &c.CodeHash, &c.ExpiresAt, &c.Attempts, &c.VerifiedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

func (r *codeRepository) IncrementAttempts(ctx context.Context, email string) error {
	const q = `
		UPDATE verification_codes
		SET attempts = attempts + 1
		WHERE lower(email) = lower($1)
		  AND verified_at IS NULL`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, email)
	return err
}

func (r *codeRepository) MarkVerified(ctx context.Context, codeID int64, now time.Time) (bool, error) {
	const q = `
		UPDATE verification_codes
		SET verified_at = $2
		WHERE id = $1
		  AND verified_at IS NULL`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, codeID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
