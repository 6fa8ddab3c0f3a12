package market

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kabumarket/kabu-market-backend/internal/domain"
	"github.com/kabumarket/kabu-market-backend/internal/observability"
)

// queryPageSize caps how many batches Query returns for display; the rest
// are reported through HiddenCount.
const queryPageSize = 10

// Config holds the market rules.
type Config struct {
	// ExpireDays is the holding period: batches rot this many days after purchase
	ExpireDays int

	// ServiceFee is the fractional surcharge on both buys and sells (e.g. 0.03)
	ServiceFee decimal.Decimal

	// MaxBuyPerDay caps units purchasable per user per calendar day; 0 disables the cap
	MaxBuyPerDay int64
}

// PriceOracle is the slice of the pricing service the ledger engine needs.
type PriceOracle interface {
	PriceToday(ctx context.Context, userID string) (price, purchasedToday int64, err error)
}

// QueryResult is the read-only view of a user's holdings and today's market.
type QueryResult struct {
	Batches        []*domain.StockBatch // top batches by ascending expiry
	TotalQuantity  int64                // units across ALL live batches, not just the page
	HiddenCount    int64                // live batches beyond the returned page
	Price          int64
	PurchasedToday int64
	DailyRemaining int64 // units still purchasable today; -1 when no daily cap is configured
	CoinBalance    int64
}

// BuyResult describes a committed purchase. The engine does not own the coin
// balance; NewCoinBalance is the value the caller should apply.
type BuyResult struct {
	NewCoinBalance int64
	Cost           int64 // includes the fee
	Fee            int64
	Price          int64
	Amount         int64
	ExpiresAt      time.Time
}

// SellResult describes a committed sale.
type SellResult struct {
	NewCoinBalance int64
	Gain           int64 // net of the fee
	Fee            int64
	Price          int64
	Amount         int64
}

// Service is the ledger engine: the only component the command layer talks
// to. Each operation runs under a per-user lock so concurrent commands for
// one user cannot interleave their read-then-write sequences.
type Service struct {
	Oracle     PriceOracle
	BatchRepo  domain.BatchRepository
	LedgerRepo domain.LedgerRepository

	cfg     Config
	metrics *observability.Metrics
	locks   *userLocks
	now     func() time.Time
}

// NewService creates a new ledger engine Service instance
func NewService(
	oracle PriceOracle,
	batchRepo domain.BatchRepository,
	ledgerRepo domain.LedgerRepository,
	cfg Config,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		Oracle:     oracle,
		BatchRepo:  batchRepo,
		LedgerRepo: ledgerRepo,
		cfg:        cfg,
		metrics:    metrics,
		locks:      newUserLocks(),
		now:        time.Now,
	}
}

// Query returns the user's holdings (top page by expiry), total stock,
// today's price and remaining daily allowance. Read-only apart from the lazy
// creation of today's price on the user's first query of the day.
func (s *Service) Query(ctx context.Context, userID string, coinBalance int64) (result *QueryResult, err error) {
	start := s.now()
	defer func() { s.observe("query", start, err) }()
	unlock := s.locks.lock(userID)
	defer unlock()

	batches, err := s.BatchRepo.ListByExpiryAsc(ctx, userID, queryPageSize)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	count, err := s.BatchRepo.Count(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count batches: %w", err)
	}
	total, err := s.BatchRepo.SumQuantity(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sum batch quantity: %w", err)
	}

	price, bought, err := s.Oracle.PriceToday(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &QueryResult{
		Batches:        batches,
		TotalQuantity:  total,
		HiddenCount:    count - int64(len(batches)),
		Price:          price,
		PurchasedToday: bought,
		DailyRemaining: s.dailyRemaining(bought),
		CoinBalance:    coinBalance,
	}, nil
}

// Buy purchases turnips at today's price. A nil requestedAmount buys as many
// as the balance and daily allowance permit; an explicit amount beyond either
// limit is rejected, not clamped. Batch insert and purchased-today bump
// commit in one storage transaction; the coin debit is returned to the
// caller, which owns the balance.
func (s *Service) Buy(ctx context.Context, userID string, coinBalance int64, requestedAmount *int64) (result *BuyResult, err error) {
	start := s.now()
	defer func() { s.observe("buy", start, err) }()
	unlock := s.locks.lock(userID)
	defer unlock()

	price, bought, err := s.Oracle.PriceToday(ctx, userID)
	if err != nil {
		return nil, err
	}

	feeFactor := decimal.New(1, 0).Add(s.cfg.ServiceFee)
	maxAffordable := decimal.NewFromInt(coinBalance).
		Div(decimal.NewFromInt(price).Mul(feeFactor)).
		Floor().
		IntPart()

	remaining := s.dailyRemaining(bought)

	amount := maxAffordable
	if remaining >= 0 && remaining < amount {
		amount = remaining
	}
	if requestedAmount != nil {
		amount = *requestedAmount
		if amount <= 0 {
			return nil, domain.NewValidationError(domain.ErrCodeInvalidQuantity,
				"purchase amount must be a positive integer")
		}
	}

	switch {
	case amount > maxAffordable:
		ve := domain.NewValidationError(domain.ErrCodeInsufficientFunds,
			"balance of %d coins affords at most %d units at price %d", coinBalance, maxAffordable, price)
		ve.Max = maxAffordable
		return nil, ve
	case remaining >= 0 && amount > remaining:
		ve := domain.NewValidationError(domain.ErrCodeDailyLimitExceeded,
			"only %d more units can be bought today", remaining)
		ve.Max = remaining
		return nil, ve
	case amount <= 0:
		// Defaulted amount came out as zero: either the daily allowance
		// is used up or nothing is affordable
		if remaining == 0 && maxAffordable > 0 {
			return nil, domain.NewValidationError(domain.ErrCodeDailyLimitExceeded,
				"daily purchase allowance of %d units is used up", s.cfg.MaxBuyPerDay)
		}
		return nil, domain.NewValidationError(domain.ErrCodeInsufficientFunds,
			"balance of %d coins cannot cover a single unit at price %d", coinBalance, price)
	}

	gross := price * amount
	cost := decimal.NewFromInt(gross).Mul(feeFactor).Ceil().IntPart()

	batch := &domain.StockBatch{
		ID:        uuid.New(),
		UserID:    userID,
		Quantity:  amount,
		UnitPrice: price,
		ExpiresAt: s.now().AddDate(0, 0, s.cfg.ExpireDays),
	}
	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("purchase batch: %w", err)
	}

	if err := s.LedgerRepo.RecordPurchase(ctx, batch); err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	return &BuyResult{
		NewCoinBalance: coinBalance - cost,
		Cost:           cost,
		Fee:            cost - gross,
		Price:          price,
		Amount:         amount,
		ExpiresAt:      batch.ExpiresAt,
	}, nil
}

// Sell consumes the user's oldest batches first at today's price. A nil
// requestedAmount sells everything; a finite amount that cannot be fully
// satisfied is rejected with no mutation. Deletions and the at most one
// partial decrement commit in one storage transaction; the coin credit is
// returned to the caller.
func (s *Service) Sell(ctx context.Context, userID string, coinBalance int64, requestedAmount *int64) (result *SellResult, err error) {
	start := s.now()
	defer func() { s.observe("sell", start, err) }()
	unlock := s.locks.lock(userID)
	defer unlock()

	amount := int64(-1) // sell all
	if requestedAmount != nil {
		if *requestedAmount <= 0 {
			return nil, domain.NewValidationError(domain.ErrCodeInvalidQuantity,
				"sell amount must be a positive integer")
		}
		amount = *requestedAmount
	}

	batches, err := s.BatchRepo.ListByExpiryAsc(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	plan := domain.PlanConsumption(batches, amount)
	if plan.Consumed == 0 || (amount > 0 && plan.Consumed < amount) {
		var held int64
		for _, b := range batches {
			held += b.Quantity
		}
		var ve *domain.ValidationError
		if amount < 0 {
			ve = domain.NewValidationError(domain.ErrCodeInsufficientStock,
				"no turnips held to sell")
		} else {
			ve = domain.NewValidationError(domain.ErrCodeInsufficientStock,
				"cannot sell %d units, only %d held", amount, held)
		}
		ve.Max = held
		return nil, ve
	}

	// One price snapshot per invocation, even if the sale spans batches
	// bought on different days.
	price, _, err := s.Oracle.PriceToday(ctx, userID)
	if err != nil {
		return nil, err
	}

	gross := plan.Consumed * price
	gain := decimal.New(1, 0).Sub(s.cfg.ServiceFee).
		Mul(decimal.NewFromInt(gross)).
		Floor().
		IntPart()

	deleted, err := s.LedgerRepo.RecordSale(ctx, userID, plan.DeleteIDs, plan.Partial)
	if err != nil {
		return nil, fmt.Errorf("record sale: %w", err)
	}
	if deleted != int64(len(plan.DeleteIDs)) {
		return nil, fmt.Errorf("planned %d batch deletions, store deleted %d: %w",
			len(plan.DeleteIDs), deleted, domain.ErrInvariantViolation)
	}

	return &SellResult{
		NewCoinBalance: coinBalance + gain,
		Gain:           gain,
		Fee:            gross - gain,
		Price:          price,
		Amount:         plan.Consumed,
	}, nil
}

// dailyRemaining returns the units still purchasable today, or -1 when no
// daily cap is configured. Never negative with a cap in place.
func (s *Service) dailyRemaining(purchasedToday int64) int64 {
	if s.cfg.MaxBuyPerDay <= 0 {
		return -1
	}
	remaining := s.cfg.MaxBuyPerDay - purchasedToday
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// observe records operation metrics; deferred with the operation's final error.
func (s *Service) observe(op string, start time.Time, err error) {
	s.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		if _, ok := domain.AsValidationError(err); ok {
			outcome = "rejected"
		} else {
			outcome = "error"
		}
	}
	s.metrics.OpsTotal.WithLabelValues(op, outcome).Inc()
}
