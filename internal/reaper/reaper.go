package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kabumarket/kabu-market-backend/internal/notify"
	"github.com/kabumarket/kabu-market-backend/internal/observability"
)

// RottedBatch is one expired batch removed by a sweep.
type RottedBatch struct {
	UserID   string
	Quantity int64
}

// Store is the slice of the persistence layer the reaper needs.
type Store interface {
	// ReapExpiredBatches deletes batches whose expiry is at or before now
	// and returns what was deleted
	ReapExpiredBatches(ctx context.Context, now time.Time) ([]RottedBatch, error)

	// ReapExpiredPrices deletes daily price rows whose expiry is at or
	// before now, returning the number removed
	ReapExpiredPrices(ctx context.Context, now time.Time) (int64, error)
}

// Reaper periodically deletes expired price and batch rows. It stands in for
// a storage-native TTL: reads elsewhere already ignore expired rows, so the
// sweep only reclaims space and triggers the rot notifications. It runs
// outside the per-user lock and is eventually consistent.
type Reaper struct {
	store     Store
	publisher notify.Publisher
	interval  time.Duration
	metrics   *observability.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

// New creates a new Reaper instance
func New(store Store, publisher notify.Publisher, interval time.Duration, metrics *observability.Metrics, log zerolog.Logger) *Reaper {
	return &Reaper{
		store:     store,
		publisher: publisher,
		interval:  interval,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.interval).Msg("reaper started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reaper stopped")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.metrics.ReaperErrors.Inc()
				r.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// Sweep removes everything past its expiry and notifies affected users about
// their rotted stock. Once a row is reaped it is gone permanently, with no
// compensating refund.
func (r *Reaper) Sweep(ctx context.Context) error {
	now := r.now()

	rotted, err := r.store.ReapExpiredBatches(ctx, now)
	if err != nil {
		return fmt.Errorf("reap expired batches: %w", err)
	}

	pricesReaped, err := r.store.ReapExpiredPrices(ctx, now)
	if err != nil {
		return fmt.Errorf("reap expired prices: %w", err)
	}
	r.metrics.PricesReaped.Add(float64(pricesReaped))

	if len(rotted) == 0 {
		return nil
	}

	type loss struct {
		quantity int64
		batches  int64
	}
	losses := make(map[string]*loss)
	var totalUnits int64
	for _, b := range rotted {
		l, ok := losses[b.UserID]
		if !ok {
			l = &loss{}
			losses[b.UserID] = l
		}
		l.quantity += b.Quantity
		l.batches++
		totalUnits += b.Quantity
	}

	r.metrics.BatchesReaped.Add(float64(len(rotted)))
	r.metrics.UnitsRotted.Add(float64(totalUnits))
	r.log.Info().
		Int("batches", len(rotted)).
		Int64("units", totalUnits).
		Int("users", len(losses)).
		Msg("reaped rotted stock")

	for userID, l := range losses {
		notice := notify.RotNotice{
			UserID:     userID,
			Quantity:   l.quantity,
			Batches:    l.batches,
			OccurredAt: now,
		}
		if err := r.publisher.PublishRot(ctx, notice); err != nil {
			// The deletion is already committed; a missed notice is
			// not worth failing the sweep over
			r.log.Warn().Err(err).Str("user_id", userID).Msg("rot notice not published")
		}
	}

	return nil
}
