package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"cryptoalerter/internal/logger"
	"cryptoalerter/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a subscription or alert does not exist.
var ErrNotFound = errors.New("not found")

// CreateSubscription inserts a subscription. Re-subscribing with the same
// email replaces the record wholesale: thresholds and tracked assets are
// overwritten and the observed-price state is reset, so the next check run
// starts from a clean first observation.
func (db *DB) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, email, threshold, interval_minutes, cryptos, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO UPDATE SET
			threshold = EXCLUDED.threshold,
			interval_minutes = EXCLUDED.interval_minutes,
			cryptos = EXCLUDED.cryptos,
			last_checked_at = NULL,
			last_prices = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	err := db.conn.QueryRowContext(
		ctx,
		query,
		sub.ID,
		sub.Email,
		sub.Threshold,
		sub.IntervalMinutes,
		pq.Array(sub.Cryptos),
		sub.CreatedAt,
		sub.UpdatedAt,
	).Scan(&sub.ID)

	if err != nil {
		logger.Log.Error("Failed to save subscription",
			zap.String("email", sub.Email),
			zap.Error(err),
		)
		return err
	}

	return nil
}

// GetSubscriptionByID retrieves a subscription by its ID.
func (db *DB) GetSubscriptionByID(ctx context.Context, id string) (*models.Subscription, error) {
	query := subscriptionColumns + ` WHERE id = $1`

	sub, err := scanSubscription(db.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		logger.Log.Error("Failed to retrieve subscription",
			zap.String("subscription_id", id),
			zap.Error(err),
		)
		return nil, err
	}
	return sub, nil
}

// GetSubscriptionByEmail retrieves a subscription by its email.
func (db *DB) GetSubscriptionByEmail(ctx context.Context, email string) (*models.Subscription, error) {
	query := subscriptionColumns + ` WHERE email = $1`

	sub, err := scanSubscription(db.conn.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		logger.Log.Error("Failed to retrieve subscription",
			zap.String("email", email),
			zap.Error(err),
		)
		return nil, err
	}
	return sub, nil
}

// ListSubscriptions retrieves every subscription.
func (db *DB) ListSubscriptions(ctx context.Context) ([]*models.Subscription, error) {
	query := subscriptionColumns + ` ORDER BY created_at`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		logger.Log.Error("Failed to query subscriptions", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

// DeleteSubscription removes a subscription by ID.
func (db *DB) DeleteSubscription(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		logger.Log.Error("Failed to delete subscription",
			zap.String("subscription_id", id),
			zap.Error(err),
		)
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSubscriptionState overwrites only the observed-price state after a
// check run; configuration columns are untouched.
func (db *DB) UpdateSubscriptionState(ctx context.Context, id string, lastCheckedAt time.Time, lastPrices map[string]float64) error {
	pricesJSON, err := json.Marshal(lastPrices)
	if err != nil {
		return err
	}

	query := `
		UPDATE subscriptions
		SET last_checked_at = $1, last_prices = $2
		WHERE id = $3
	`

	result, err := db.conn.ExecContext(ctx, query, lastCheckedAt, pricesJSON, id)
	if err != nil {
		logger.Log.Error("Failed to update subscription state",
			zap.String("subscription_id", id),
			zap.Error(err),
		)
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

const subscriptionColumns = `
	SELECT id, email, threshold, interval_minutes, cryptos, last_checked_at, last_prices, created_at, updated_at
	FROM subscriptions`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row scanner) (*models.Subscription, error) {
	var sub models.Subscription
	var lastCheckedAt sql.NullTime
	var lastPrices []byte

	err := row.Scan(
		&sub.ID,
		&sub.Email,
		&sub.Threshold,
		&sub.IntervalMinutes,
		pq.Array(&sub.Cryptos),
		&lastCheckedAt,
		&lastPrices,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Convert nullable fields
	if lastCheckedAt.Valid {
		t := lastCheckedAt.Time
		sub.LastCheckedAt = &t
	}
	if len(lastPrices) > 0 {
		if err := json.Unmarshal(lastPrices, &sub.LastPrices); err != nil {
			return nil, err
		}
	}

	return &sub, nil
}
