package domain

import (
	"errors"
	"time"
)

// DailyPrice represents the per-user turnip quote for a single calendar day.
// There is at most one live row per user; the row expires at the end of the
// local day and is swept by the reaper.
type DailyPrice struct {
	UserID          string
	Price           int64 // coins per unit, fixed once generated for the day
	PurchasedToday  int64 // units bought today; only ever increases within a day
	ExpiresAt       time.Time
}

// Validate ensures the daily price adheres to domain rules
// Returns an error if validation fails
func (p *DailyPrice) Validate() error {
	if p.UserID == "" {
		return errors.New("daily price user ID cannot be empty")
	}
	if p.Price <= 0 {
		return errors.New("daily price must be positive")
	}
	if p.PurchasedToday < 0 {
		return errors.New("purchased-today counter cannot be negative")
	}
	if p.ExpiresAt.IsZero() {
		return errors.New("daily price must have an expiry")
	}
	return nil
}

// Live reports whether the price row is still valid at the given instant.
// Reads must never trust a row past its expiry even if the reaper has not
// swept it yet.
func (p *DailyPrice) Live(now time.Time) bool {
	return p.ExpiresAt.After(now)
}

// EndOfDay returns the first instant of the next local day, which is the
// expiry of any price generated during the day containing t.
func EndOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}
