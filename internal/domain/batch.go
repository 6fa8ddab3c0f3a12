package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// StockBatch represents one purchase event: a parcel of turnips bought at a
// single price, rotting together at ExpiresAt. Quantity is only ever
// decremented by sales; a batch that reaches zero is deleted, not kept.
type StockBatch struct {
	ID        uuid.UUID
	UserID    string
	Quantity  int64 // units remaining, always > 0 for a live batch
	UnitPrice int64 // coins per unit paid at purchase time, immutable
	ExpiresAt time.Time
}

// Validate ensures the batch adheres to domain rules
// Returns an error if validation fails
func (b *StockBatch) Validate() error {
	if b.UserID == "" {
		return errors.New("stock batch user ID cannot be empty")
	}
	if b.Quantity <= 0 {
		return errors.New("stock batch quantity must be positive")
	}
	if b.UnitPrice <= 0 {
		return errors.New("stock batch unit price must be positive")
	}
	if b.ExpiresAt.IsZero() {
		return errors.New("stock batch must have an expiry")
	}
	return nil
}

// Live reports whether the batch has not yet rotted at the given instant.
func (b *StockBatch) Live(now time.Time) bool {
	return b.ExpiresAt.After(now)
}

// PartialConsumption identifies the single batch a sale leaves partially
// consumed, with the quantity it should hold afterwards.
type PartialConsumption struct {
	ID          uuid.UUID
	NewQuantity int64
}

// ConsumptionPlan is the outcome of walking a user's batches oldest-first to
// satisfy a sale. It records which batches are emptied outright and the at
// most one batch that is partially drained. The plan commits nothing; the
// ledger engine applies it in a single storage transaction.
type ConsumptionPlan struct {
	Consumed  int64
	DeleteIDs []uuid.UUID
	Partial   *PartialConsumption
}

// PlanConsumption walks batches in the given order (callers pass them sorted
// by ascending expiry, oldest purchase first) and accumulates quantity until
// amount is reached or the batches run out. Batches that fit entirely within
// the remaining need are marked for deletion; the first batch that would
// overshoot is partially consumed and the walk stops.
//
// amount < 0 means "sell everything". Consumed is <= amount for a finite
// amount; the caller decides whether a shortfall is an error.
func PlanConsumption(batches []*StockBatch, amount int64) ConsumptionPlan {
	plan := ConsumptionPlan{}
	sellAll := amount < 0

	for _, b := range batches {
		if sellAll || plan.Consumed+b.Quantity <= amount {
			plan.Consumed += b.Quantity
			plan.DeleteIDs = append(plan.DeleteIDs, b.ID)
			continue
		}
		if plan.Consumed < amount {
			remainder := amount - plan.Consumed
			plan.Partial = &PartialConsumption{
				ID:          b.ID,
				NewQuantity: b.Quantity - remainder,
			}
			plan.Consumed = amount
		}
		break
	}

	return plan
}
