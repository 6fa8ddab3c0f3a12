package postgres

import (
	"context"
	"fmt"

	"github.com/kabumarket/kabu-market-backend/internal/domain"
)

// batchRepository implements domain.BatchRepository
type batchRepository struct {
	db *DB
}

// NewBatchRepository creates a new stock batch repository
func NewBatchRepository(db *DB) domain.BatchRepository {
	return &batchRepository{db: db}
}

// ListByExpiryAsc retrieves a user's live batches ordered by ascending expiry.
// Rows past their expiry are never returned, even before the reaper sweeps
// them. limit <= 0 returns all live batches.
func (r *batchRepository) ListByExpiryAsc(ctx context.Context, userID string, limit int) ([]*domain.StockBatch, error) {
	query := `
		SELECT id, user_id, quantity, unit_price, expires_at
		FROM stock_batch
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY expires_at ASC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock batches: %w", err)
	}
	defer rows.Close()

	var batches []*domain.StockBatch
	for rows.Next() {
		var b domain.StockBatch
		if err := rows.Scan(&b.ID, &b.UserID, &b.Quantity, &b.UnitPrice, &b.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock batch: %w", err)
		}
		batches = append(batches, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock batches: %w", err)
	}

	return batches, nil
}

// Count returns the number of live batches the user holds
func (r *batchRepository) Count(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM stock_batch
		WHERE user_id = $1 AND expires_at > NOW()
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count stock batches: %w", err)
	}

	return count, nil
}

// SumQuantity returns the total units across all of the user's live batches
func (r *batchRepository) SumQuantity(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_batch
		WHERE user_id = $1 AND expires_at > NOW()
	`

	var sum int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum stock batch quantity: %w", err)
	}

	return sum, nil
}
