package models

import (
	"time"
)

// Subscription represents one user's alerting configuration plus the
// last-observed prices used for change detection.
type Subscription struct {
	ID              string             `json:"id" db:"id"`
	Email           string             `json:"email" db:"email"`
	Threshold       float64            `json:"threshold" db:"threshold"`
	IntervalMinutes int                `json:"interval_minutes" db:"interval_minutes"`
	Cryptos         []string           `json:"cryptos" db:"cryptos"`
	LastCheckedAt   *time.Time         `json:"last_checked_at,omitempty" db:"last_checked_at"`
	LastPrices      map[string]float64 `json:"last_prices,omitempty" db:"last_prices"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`
}

// PriceQuote is one asset's entry in a fetched price snapshot. Quotes are
// ephemeral; only the price is folded back into a Subscription's LastPrices.
type PriceQuote struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	CurrentPrice float64 `json:"current_price"`
}

// AlertRecord is an immutable record of a fired price-rise alert.
type AlertRecord struct {
	ID               string    `json:"id" db:"id"`
	SubscriptionID   string    `json:"subscription_id" db:"subscription_id"`
	Email            string    `json:"email" db:"email"`
	Crypto           string    `json:"crypto" db:"crypto"`
	Symbol           string    `json:"symbol" db:"symbol"`
	PreviousPrice    float64   `json:"previous_price" db:"previous_price"`
	CurrentPrice     float64   `json:"current_price" db:"current_price"`
	PercentageChange float64   `json:"percentage_change" db:"percentage_change"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
}

// CheckSummary is the result of one price-check run.
type CheckSummary struct {
	AssetsChecked int           `json:"assets_checked"`
	AlertsSent    int           `json:"alerts_sent"`
	Alerts        []AlertRecord `json:"alerts"`
}
