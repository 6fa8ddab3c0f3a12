package domain

import (
	"context"

	"github.com/google/uuid"
)

// PriceRepository defines the interface for daily price persistence operations
type PriceRepository interface {
	// GetForUser retrieves the live daily price for a user, or nil if no
	// live row exists (expired rows are treated as absent)
	GetForUser(ctx context.Context, userID string) (*DailyPrice, error)

	// Create inserts a daily price if none exists for the user yet.
	// Returns true if the row was inserted, false if another writer got
	// there first (the caller should re-read in that case)
	Create(ctx context.Context, price *DailyPrice) (bool, error)
}

// BatchRepository defines the interface for stock batch read operations
type BatchRepository interface {
	// ListByExpiryAsc retrieves a user's live batches ordered by ascending
	// expiry (equivalently, purchase order). limit <= 0 means no limit
	ListByExpiryAsc(ctx context.Context, userID string, limit int) ([]*StockBatch, error)

	// Count returns the number of live batches the user holds
	Count(ctx context.Context, userID string) (int64, error)

	// SumQuantity returns the total units across all of the user's live batches
	SumQuantity(ctx context.Context, userID string) (int64, error)
}

// LedgerRepository defines the interface for the multi-row writes behind buy
// and sell. Each method is a single storage transaction: all effects commit
// together or none do.
type LedgerRepository interface {
	// RecordPurchase inserts the batch and bumps the user's
	// purchased-today counter in one transaction
	RecordPurchase(ctx context.Context, batch *StockBatch) error

	// RecordSale deletes the fully consumed batches and applies the at
	// most one partial decrement in one transaction. Returns the number
	// of rows actually deleted so the engine can cross-check its plan
	RecordSale(ctx context.Context, userID string, deleteIDs []uuid.UUID, partial *PartialConsumption) (int64, error)
}
