package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kabumarket/kabu-market-backend/internal/reaper"
)

// reaperRepository implements reaper.Store
type reaperRepository struct {
	db *DB
}

// NewReaperRepository creates a new reaper store
func NewReaperRepository(db *DB) reaper.Store {
	return &reaperRepository{db: db}
}

// ReapExpiredBatches deletes rotted batches and returns what was removed,
// in one statement so the sweep and its report cannot disagree.
func (r *reaperRepository) ReapExpiredBatches(ctx context.Context, now time.Time) ([]reaper.RottedBatch, error) {
	query := `
		DELETE FROM stock_batch
		WHERE expires_at <= $1
		RETURNING user_id, quantity
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired batches: %w", err)
	}
	defer rows.Close()

	var rotted []reaper.RottedBatch
	for rows.Next() {
		var b reaper.RottedBatch
		if err := rows.Scan(&b.UserID, &b.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan rotted batch: %w", err)
		}
		rotted = append(rotted, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rotted batches: %w", err)
	}

	return rotted, nil
}

// ReapExpiredPrices deletes day-old price rows.
func (r *reaperRepository) ReapExpiredPrices(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM daily_price WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired prices: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}

	return deleted, nil
}
