// Package checker implements the price-check run: fetch one batched
// snapshot, diff it per subscription against last-known prices, fire and
// record alerts for qualifying rises, and persist the new observations.
package checker

import (
	"context"
	"time"

	"cryptoalerter/internal/logger"
	"cryptoalerter/internal/models"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	checksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "price_checks_total",
		Help: "Total number of completed price-check runs",
	})
	checkFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "price_check_failures_total",
		Help: "Total number of price-check runs aborted by a fatal error",
	})
	alertsFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alerts_fired_total",
		Help: "Total number of alerts fired",
	})
	notifyFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_failures_total",
		Help: "Total number of failed alert deliveries",
	})
)

func init() {
	prometheus.MustRegister(checksTotal)
	prometheus.MustRegister(checkFailuresTotal)
	prometheus.MustRegister(alertsFiredTotal)
	prometheus.MustRegister(notifyFailuresTotal)
}

// SubscriptionStore is the slice of the persistence layer the checker needs.
type SubscriptionStore interface {
	ListSubscriptions(ctx context.Context) ([]*models.Subscription, error)
	UpdateSubscriptionState(ctx context.Context, id string, lastCheckedAt time.Time, lastPrices map[string]float64) error
}

// AlertLog appends fired alerts to the durable history.
type AlertLog interface {
	AppendAlert(ctx context.Context, alert *models.AlertRecord) error
}

// PriceSource returns current quotes for a batch of asset ids. Unknown ids
// are absent from the result.
type PriceSource interface {
	Fetch(ctx context.Context, ids []string) (map[string]models.PriceQuote, error)
}

// Notifier delivers one alert to its subscriber.
type Notifier interface {
	Notify(ctx context.Context, alert models.AlertRecord) error
}

// AlertPublisher fans a fired alert out to a side channel (Kafka topic,
// redis pubsub for the live stream). Publish failures never affect the run.
type AlertPublisher interface {
	PublishAlert(alert models.AlertRecord) error
}

// Checker orchestrates one price-check run over injected collaborators.
type Checker struct {
	store      SubscriptionStore
	prices     PriceSource
	alerts     AlertLog
	notifier   Notifier
	publishers []AlertPublisher
	now        func() time.Time
}

// Option configures a Checker.
type Option func(*Checker)

// WithPublisher adds a side channel for fired alerts.
func WithPublisher(p AlertPublisher) Option {
	return func(c *Checker) {
		c.publishers = append(c.publishers, p)
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		c.now = now
	}
}

// New creates a Checker.
func New(store SubscriptionStore, prices PriceSource, alerts AlertLog, notifier Notifier, opts ...Option) *Checker {
	c := &Checker{
		store:    store,
		prices:   prices,
		alerts:   alerts,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunCheck executes one check run. A subscription-list or provider failure
// aborts the run before any state is touched; everything after that point is
// isolated per subscriber, so one bad subscription cannot block the rest.
func (c *Checker) RunCheck(ctx context.Context) (*models.CheckSummary, error) {
	subs, err := c.store.ListSubscriptions(ctx)
	if err != nil {
		checkFailuresTotal.Inc()
		logger.Log.Error("Failed to list subscriptions", zap.Error(err))
		return nil, err
	}

	summary := &models.CheckSummary{Alerts: []models.AlertRecord{}}
	if len(subs) == 0 {
		logger.Log.Info("No subscriptions, skipping price check")
		return summary, nil
	}

	union := trackedUnion(subs)
	summary.AssetsChecked = len(union)

	quotes, err := c.prices.Fetch(ctx, union)
	if err != nil {
		checkFailuresTotal.Inc()
		logger.Log.Error("Price fetch failed, aborting run", zap.Error(err))
		return nil, err
	}

	for _, sub := range subs {
		c.checkSubscription(ctx, sub, quotes, summary)
	}

	checksTotal.Inc()
	logger.Log.Info("Price check completed",
		zap.Int("subscriptions", len(subs)),
		zap.Int("assets_checked", summary.AssetsChecked),
		zap.Int("alerts_sent", summary.AlertsSent),
	)
	return summary, nil
}

func (c *Checker) checkSubscription(ctx context.Context, sub *models.Subscription, quotes map[string]models.PriceQuote, summary *models.CheckSummary) {
	// Start from the previous observations: an asset without a quote this
	// round keeps its stale entry rather than being wiped.
	newPrices := make(map[string]float64, len(sub.Cryptos))
	for id, price := range sub.LastPrices {
		newPrices[id] = price
	}

	seen := make(map[string]struct{}, len(sub.Cryptos))
	for _, assetID := range sub.Cryptos {
		if _, dup := seen[assetID]; dup {
			continue
		}
		seen[assetID] = struct{}{}

		quote, ok := quotes[assetID]
		if !ok {
			continue
		}
		newPrices[assetID] = quote.CurrentPrice

		// A non-positive stored price has nothing meaningful to compare
		// against (and would make the change NaN or Inf), so it is treated
		// like a first observation: record the quote, skip the decision.
		prev, ok := sub.LastPrices[assetID]
		if !ok || prev <= 0 {
			continue
		}

		pct := (quote.CurrentPrice - prev) / prev * 100
		if pct < sub.Threshold {
			continue
		}

		alert := models.AlertRecord{
			ID:               uuid.New().String(),
			SubscriptionID:   sub.ID,
			Email:            sub.Email,
			Crypto:           quote.Name,
			Symbol:           quote.Symbol,
			PreviousPrice:    prev,
			CurrentPrice:     quote.CurrentPrice,
			PercentageChange: pct,
			Timestamp:        c.now(),
		}

		if err := c.alerts.AppendAlert(ctx, &alert); err != nil {
			logger.Log.Error("Failed to record alert",
				zap.String("subscription_id", sub.ID),
				zap.String("crypto", assetID),
				zap.Error(err),
			)
			continue
		}

		alertsFiredTotal.Inc()
		summary.AlertsSent++
		summary.Alerts = append(summary.Alerts, alert)

		for _, pub := range c.publishers {
			if err := pub.PublishAlert(alert); err != nil {
				logger.Log.Warn("Failed to publish alert event",
					zap.String("alert_id", alert.ID),
					zap.Error(err),
				)
			}
		}

		if err := c.notifier.Notify(ctx, alert); err != nil {
			notifyFailuresTotal.Inc()
			logger.Log.Error("Failed to deliver alert",
				zap.String("alert_id", alert.ID),
				zap.String("email", sub.Email),
				zap.Error(err),
			)
			// Fire-and-forget: the alert stays recorded, the run goes on.
		}
	}

	if err := c.store.UpdateSubscriptionState(ctx, sub.ID, c.now(), newPrices); err != nil {
		logger.Log.Error("Failed to persist subscription state",
			zap.String("subscription_id", sub.ID),
			zap.Error(err),
		)
	}
}

// trackedUnion collapses every subscription's tracked set into one
// deduplicated batch for the provider.
func trackedUnion(subs []*models.Subscription) []string {
	seen := make(map[string]struct{})
	var union []string
	for _, sub := range subs {
		for _, id := range sub.Cryptos {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			union = append(union, id)
		}
	}
	return union
}
