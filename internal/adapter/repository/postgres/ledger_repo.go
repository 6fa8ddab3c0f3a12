package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kabumarket/kabu-market-backend/internal/domain"
)

// ledgerRepository implements domain.LedgerRepository
type ledgerRepository struct {
	db *DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *DB) domain.LedgerRepository {
	return &ledgerRepository{db: db}
}

// RecordPurchase inserts the batch and bumps the user's purchased-today
// counter in a database transaction. If the counter row is missing or
// expired the transaction rolls back: a purchase without a live daily price
// would corrupt the daily-cap accounting.
func (r *ledgerRepository) RecordPurchase(ctx context.Context, batch *domain.StockBatch) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	insertBatchQuery := `
		INSERT INTO stock_batch (id, user_id, quantity, unit_price, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = dbTx.ExecContext(ctx, insertBatchQuery,
		batch.ID,
		batch.UserID,
		batch.Quantity,
		batch.UnitPrice,
		batch.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert stock batch: %w", err)
	}

	bumpQuery := `
		UPDATE daily_price
		SET purchased_today = purchased_today + $2
		WHERE user_id = $1 AND expires_at > NOW()
	`
	result, err := dbTx.ExecContext(ctx, bumpQuery, batch.UserID, batch.Quantity)
	if err != nil {
		return fmt.Errorf("failed to bump purchased-today counter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read counter update result: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("no live daily price for user %s during purchase: %w",
			batch.UserID, domain.ErrInvariantViolation)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purchase: %w", err)
	}

	return nil
}

// RecordSale deletes the fully consumed batches and applies the at most one
// partial decrement in a database transaction. Returns the number of rows
// deleted so the engine can cross-check its consumption plan.
func (r *ledgerRepository) RecordSale(ctx context.Context, userID string, deleteIDs []uuid.UUID, partial *domain.PartialConsumption) (int64, error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	var deleted int64
	if len(deleteIDs) > 0 {
		ids := make([]string, 0, len(deleteIDs))
		for _, id := range deleteIDs {
			ids = append(ids, id.String())
		}

		deleteQuery := `
			DELETE FROM stock_batch
			WHERE user_id = $1 AND id = ANY($2)
		`
		result, err := dbTx.ExecContext(ctx, deleteQuery, userID, pq.Array(ids))
		if err != nil {
			return 0, fmt.Errorf("failed to delete consumed batches: %w", err)
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read delete result: %w", err)
		}
	}

	if partial != nil {
		if partial.NewQuantity <= 0 {
			return 0, fmt.Errorf("partial consumption would leave batch %s at %d units: %w",
				partial.ID, partial.NewQuantity, domain.ErrInvariantViolation)
		}

		updateQuery := `
			UPDATE stock_batch
			SET quantity = $3
			WHERE user_id = $1 AND id = $2
		`
		result, err := dbTx.ExecContext(ctx, updateQuery, userID, partial.ID, partial.NewQuantity)
		if err != nil {
			return 0, fmt.Errorf("failed to update partially consumed batch: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read update result: %w", err)
		}
		if affected != 1 {
			return 0, fmt.Errorf("partially consumed batch %s not found: %w",
				partial.ID, domain.ErrInvariantViolation)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sale: %w", err)
	}

	return deleted, nil
}
