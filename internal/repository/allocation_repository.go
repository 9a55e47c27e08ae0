package repository

import (
	"context"
	"time"

	"github.com/fairshare/ration-tds/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AllocationRepository interface {
	ListForMonth(ctx context.Context, userID int64, month, year int) ([]domain.MonthlyAllocation, error)
	// Upsert creates an allocation row or, if one exists for the same
	// (user, item, month, year), updates its eligible quantity.
	Upsert(ctx context.Context, userID int64, itemCode string, eligibleQuantity float64, month, year int) (*domain.MonthlyAllocation, error)
}

type allocationRepository struct {
	pool *pgxpool.Pool
}

func NewAllocationRepository(pool *pgxpool.Pool) AllocationRepository {
	return &allocationRepository{pool: pool}
}

func (r *allocationRepository) ListForMonth(ctx context.Context, userID int64, month, year int) ([]domain.MonthlyAllocation, error) {
	const q = `
		SELECT id, user_id, item_code, eligible_quantity, collected_quantity, month, year, created_at
		FROM monthly_allocations
		WHERE user_id = $1 AND month = $2 AND year = $3
		ORDER BY item_code`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, userID, month, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []domain.MonthlyAllocation
	for rows.Next() {
		var a domain.MonthlyAllocation
		if err := rows.Scan(&a.ID, &a.UserID, &a.ItemCode, &a.EligibleQuantity, &a.CollectedQuantity, &a.Month, &a.Year, &a.CreatedAt); err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func (r *allocationRepository) Upsert(ctx context.Context, userID int64, itemCode string, eligibleQuantity float64, month, year int) (*domain.MonthlyAllocation, error) {
	const q = `
		INSERT INTO monthly_allocations (user_id, item_code, eligible_quantity, month, year)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, item_code, month, year) DO UPDATE
		SET eligible_quantity = EXCLUDED.eligible_quantity
		RETURNING id, user_id, item_code, eligible_quantity, collected_quantity, month, year, created_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var a domain.MonthlyAllocation
	err := r.pool.QueryRow(ctx, q, userID, itemCode, eligibleQuantity, month, year).Scan(
		&a.ID, &a.UserID, &a.ItemCode, &a.EligibleQuantity, &a.CollectedQuantity, &a.Month, &a.Year, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
