package pricing

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kabumarket/kabu-market-backend/internal/domain"
	"github.com/kabumarket/kabu-market-backend/internal/observability"
)

// Service is the price oracle: it hands out the one turnip quote a user gets
// per calendar day, generating and persisting it on the first call.
type Service struct {
	PriceRepo domain.PriceRepository

	metrics *observability.Metrics
	rng     func() float64 // uniform [0,1)
	now     func() time.Time
}

// NewService creates a new price oracle Service instance
func NewService(priceRepo domain.PriceRepository, metrics *observability.Metrics) *Service {
	return &Service{
		PriceRepo: priceRepo,
		metrics:   metrics,
		rng:       rand.Float64,
		now:       time.Now,
	}
}

// PriceToday returns today's price and purchased-today counter for the user.
// Idempotent: repeated calls within one day observe the same price. The first
// call of the day generates and persists the quote; a concurrent first call
// that loses the insert race re-reads the winner's row, so exactly one row
// exists per (user, day) and both callers see the same price.
func (s *Service) PriceToday(ctx context.Context, userID string) (price, purchasedToday int64, err error) {
	existing, err := s.PriceRepo.GetForUser(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("get daily price: %w", err)
	}
	if existing != nil {
		return existing.Price, existing.PurchasedToday, nil
	}

	fresh := &domain.DailyPrice{
		UserID:    userID,
		Price:     s.generatePrice(),
		ExpiresAt: domain.EndOfDay(s.now()),
	}
	if err := fresh.Validate(); err != nil {
		return 0, 0, fmt.Errorf("generated daily price: %w", err)
	}

	inserted, err := s.PriceRepo.Create(ctx, fresh)
	if err != nil {
		return 0, 0, fmt.Errorf("create daily price: %w", err)
	}
	if !inserted {
		// Lost the first-call race; the winner's quote is authoritative
		winner, err := s.PriceRepo.GetForUser(ctx, userID)
		if err != nil {
			return 0, 0, fmt.Errorf("re-read daily price: %w", err)
		}
		if winner == nil {
			return 0, 0, fmt.Errorf("daily price for %s vanished after insert conflict: %w", userID, domain.ErrInvariantViolation)
		}
		return winner.Price, winner.PurchasedToday, nil
	}

	s.metrics.PricesGenerated.Inc()
	return fresh.Price, 0, nil
}

// generatePrice draws today's quote: a coin flip picks the low or high
// regime, then a uniform draw is shaped by a square root. The result lands
// in [10, 50] and clusters toward the middle of the range.
//
//	low:  floor(10 + sqrt(U*400))
//	high: floor(50 - sqrt(U*400))
func (s *Service) generatePrice() int64 {
	if s.rng() < 0.5 {
		return int64(math.Floor(10 + math.Sqrt(s.rng()*400)))
	}
	return int64(math.Floor(50 - math.Sqrt(s.rng()*400)))
}
