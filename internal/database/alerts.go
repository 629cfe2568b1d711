package database

import (
	"context"
	"database/sql"

	"cryptoalerter/internal/logger"
	"cryptoalerter/internal/models"

	"go.uber.org/zap"
)

// AppendAlert inserts a fired alert into the append-only history.
func (db *DB) AppendAlert(ctx context.Context, alert *models.AlertRecord) error {
	query := `
		INSERT INTO alerts (id, subscription_id, email, crypto, symbol, previous_price, current_price, percentage_change, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := db.conn.ExecContext(
		ctx,
		query,
		alert.ID,
		alert.SubscriptionID,
		alert.Email,
		alert.Crypto,
		alert.Symbol,
		alert.PreviousPrice,
		alert.CurrentPrice,
		alert.PercentageChange,
		alert.Timestamp,
	)

	if err != nil {
		logger.Log.Error("Failed to append alert",
			zap.String("alert_id", alert.ID),
			zap.String("crypto", alert.Crypto),
			zap.Error(err),
		)
		return err
	}

	return nil
}

// ListAlerts retrieves the most recent alerts, newest first.
func (db *DB) ListAlerts(ctx context.Context, limit int) ([]*models.AlertRecord, error) {
	query := alertColumns + ` ORDER BY triggered_at DESC LIMIT $1`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		logger.Log.Error("Failed to query alert history", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ListAlertsByEmail retrieves the most recent alerts for one recipient.
func (db *DB) ListAlertsByEmail(ctx context.Context, email string, limit int) ([]*models.AlertRecord, error) {
	query := alertColumns + ` WHERE email = $1 ORDER BY triggered_at DESC LIMIT $2`

	rows, err := db.conn.QueryContext(ctx, query, email, limit)
	if err != nil {
		logger.Log.Error("Failed to query alert history",
			zap.String("email", email),
			zap.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

const alertColumns = `
	SELECT id, subscription_id, email, crypto, symbol, previous_price, current_price, percentage_change, triggered_at
	FROM alerts`

// Helper function to scan alert rows
func scanAlerts(rows *sql.Rows) ([]*models.AlertRecord, error) {
	var alerts []*models.AlertRecord

	for rows.Next() {
		var alert models.AlertRecord

		err := rows.Scan(
			&alert.ID,
			&alert.SubscriptionID,
			&alert.Email,
			&alert.Crypto,
			&alert.Symbol,
			&alert.PreviousPrice,
			&alert.CurrentPrice,
			&alert.PercentageChange,
			&alert.Timestamp,
		)
		if err != nil {
			return nil, err
		}

		alerts = append(alerts, &alert)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return alerts, nil
}
