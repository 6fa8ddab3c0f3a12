package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kabumarket/kabu-market-backend/internal/domain"
)

// priceRepository implements domain.PriceRepository
type priceRepository struct {
	db *DB
}

// NewPriceRepository creates a new daily price repository
func NewPriceRepository(db *DB) domain.PriceRepository {
	return &priceRepository{db: db}
}

// GetForUser retrieves the live daily price for a user. Expired rows the
// reaper has not swept yet are treated as absent.
func (r *priceRepository) GetForUser(ctx context.Context, userID string) (*domain.DailyPrice, error) {
	query := `
		SELECT user_id, price, purchased_today, expires_at
		FROM daily_price
		WHERE user_id = $1 AND expires_at > NOW()
	`

	var p domain.DailyPrice
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID,
		&p.Price,
		&p.PurchasedToday,
		&p.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get daily price: %w", err)
	}

	return &p, nil
}

// Create inserts the daily price if the user has no live quote yet. A stale
// row from a previous day that the reaper has not swept is overwritten; a
// live row wins the conflict and Create reports false so the caller re-reads.
func (r *priceRepository) Create(ctx context.Context, price *domain.DailyPrice) (bool, error) {
	query := `
		INSERT INTO daily_price (user_id, price, purchased_today, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET price = EXCLUDED.price,
		    purchased_today = EXCLUDED.purchased_today,
		    expires_at = EXCLUDED.expires_at
		WHERE daily_price.expires_at <= NOW()
	`

	result, err := r.db.ExecContext(ctx, query,
		price.UserID,
		price.Price,
		price.PurchasedToday,
		price.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert daily price: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}

	return affected == 1, nil
}
