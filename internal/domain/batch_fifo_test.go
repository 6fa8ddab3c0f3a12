package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeBatches builds batches with ascending expiry and the given quantities,
// mirroring the order ListByExpiryAsc returns them in.
func makeBatches(quantities ...int64) []*StockBatch {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batches := make([]*StockBatch, 0, len(quantities))
	for i, q := range quantities {
		batches = append(batches, &StockBatch{
			ID:        uuid.New(),
			UserID:    "user-1",
			Quantity:  q,
			UnitPrice: 20,
			ExpiresAt: base.AddDate(0, 0, i),
		})
	}
	return batches
}

func TestPlanConsumption_ExactFitAcrossBatches(t *testing.T) {
	batches := makeBatches(5, 10, 7)

	plan := PlanConsumption(batches, 15)

	assert.Equal(t, int64(15), plan.Consumed)
	assert.Equal(t, []uuid.UUID{batches[0].ID, batches[1].ID}, plan.DeleteIDs)
	assert.Nil(t, plan.Partial)
}

func TestPlanConsumption_PartialTouchesExactlyOneBatch(t *testing.T) {
	batches := makeBatches(5, 10, 7)

	plan := PlanConsumption(batches, 8)

	assert.Equal(t, int64(8), plan.Consumed)
	// Oldest batch fully consumed, second batch drained by the remainder
	assert.Equal(t, []uuid.UUID{batches[0].ID}, plan.DeleteIDs)
	require.NotNil(t, plan.Partial)
	assert.Equal(t, batches[1].ID, plan.Partial.ID)
	assert.Equal(t, int64(7), plan.Partial.NewQuantity)
}

func TestPlanConsumption_FirstBatchPartial(t *testing.T) {
	batches := makeBatches(9)

	plan := PlanConsumption(batches, 4)

	assert.Equal(t, int64(4), plan.Consumed)
	assert.Empty(t, plan.DeleteIDs)
	require.NotNil(t, plan.Partial)
	assert.Equal(t, int64(5), plan.Partial.NewQuantity)
}

func TestPlanConsumption_SellAll(t *testing.T) {
	batches := makeBatches(5, 10, 7)

	plan := PlanConsumption(batches, -1)

	assert.Equal(t, int64(22), plan.Consumed)
	assert.Len(t, plan.DeleteIDs, 3)
	assert.Nil(t, plan.Partial)
}

func TestPlanConsumption_InsufficientStock(t *testing.T) {
	// Three batches totaling 50 units cannot satisfy a request for 100.
	// The plan reports the shortfall; the engine rejects without mutating.
	batches := makeBatches(20, 20, 10)

	plan := PlanConsumption(batches, 100)

	assert.Equal(t, int64(50), plan.Consumed)
	assert.Len(t, plan.DeleteIDs, 3)
	assert.Nil(t, plan.Partial)
}

func TestPlanConsumption_NoBatches(t *testing.T) {
	plan := PlanConsumption(nil, 10)

	assert.Equal(t, int64(0), plan.Consumed)
	assert.Empty(t, plan.DeleteIDs)
	assert.Nil(t, plan.Partial)
}

func TestStockBatchValidate(t *testing.T) {
	valid := &StockBatch{
		ID:        uuid.New(),
		UserID:    "user-1",
		Quantity:  3,
		UnitPrice: 25,
		ExpiresAt: time.Now().AddDate(0, 0, 7),
	}
	assert.NoError(t, valid.Validate())

	zeroQty := *valid
	zeroQty.Quantity = 0
	assert.Error(t, zeroQty.Validate())

	noUser := *valid
	noUser.UserID = ""
	assert.Error(t, noUser.Validate())
}
