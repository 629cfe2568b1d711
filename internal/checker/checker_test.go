package checker

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptoalerter/internal/logger"
	"cryptoalerter/internal/models"

	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitLogger()
	m.Run()
}

type fakeStore struct {
	subs    []*models.Subscription
	listErr error

	updates   map[string]map[string]float64
	checkedAt map[string]time.Time
	updateErr map[string]error
}

func newFakeStore(subs ...*models.Subscription) *fakeStore {
	return &fakeStore{
		subs:      subs,
		updates:   make(map[string]map[string]float64),
		checkedAt: make(map[string]time.Time),
		updateErr: make(map[string]error),
	}
}

func (f *fakeStore) ListSubscriptions(ctx context.Context) ([]*models.Subscription, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.subs, nil
}

func (f *fakeStore) UpdateSubscriptionState(ctx context.Context, id string, lastCheckedAt time.Time, lastPrices map[string]float64) error {
	if err := f.updateErr[id]; err != nil {
		return err
	}
	f.updates[id] = lastPrices
	f.checkedAt[id] = lastCheckedAt
	return nil
}

type fakeSource struct {
	quotes map[string]models.PriceQuote
	err    error

	calls  int
	gotIDs []string
}

func (f *fakeSource) Fetch(ctx context.Context, ids []string) (map[string]models.PriceQuote, error) {
	f.calls++
	f.gotIDs = ids
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

type fakeLog struct {
	appended []models.AlertRecord
	err      error
}

func (f *fakeLog) AppendAlert(ctx context.Context, alert *models.AlertRecord) error {
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, *alert)
	return nil
}

type fakeNotifier struct {
	notified []models.AlertRecord
	err      error
}

func (f *fakeNotifier) Notify(ctx context.Context, alert models.AlertRecord) error {
	f.notified = append(f.notified, alert)
	return f.err
}

type fakePublisher struct {
	published []models.AlertRecord
	err       error
}

func (f *fakePublisher) PublishAlert(alert models.AlertRecord) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, alert)
	return nil
}

func quote(id, name, symbol string, price float64) models.PriceQuote {
	return models.PriceQuote{ID: id, Name: name, Symbol: symbol, CurrentPrice: price}
}

func btcSub(threshold float64, lastPrices map[string]float64) *models.Subscription {
	return &models.Subscription{
		ID:              "sub-1",
		Email:           "user@example.com",
		Threshold:       threshold,
		IntervalMinutes: 5,
		Cryptos:         []string{"bitcoin"},
		LastPrices:      lastPrices,
	}
}

func TestRunCheck_NoSubscriptions(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{}
	c := New(store, source, &fakeLog{}, &fakeNotifier{})

	summary, err := c.RunCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.AssetsChecked)
	require.Equal(t, 0, summary.AlertsSent)
	require.Empty(t, summary.Alerts)
	require.Zero(t, source.calls, "provider must not be called with no subscriptions")
	require.Empty(t, store.updates)
}

func TestRunCheck_FirstObservationNeverFires(t *testing.T) {
	store := newFakeStore(btcSub(3, nil))
	source := &fakeSource{quotes: map[string]models.PriceQuote{
		"bitcoin": quote("bitcoin", "Bitcoin", "btc", 31000),
	}}
	alertLog := &fakeLog{}
	notifier := &fakeNotifier{}
	c := New(store, source, alertLog, notifier)

	summary, err := c.RunCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.AlertsSent)
	require.Empty(t, alertLog.appended)
	require.Empty(t, notifier.notified)

	// The observation is still recorded for the next run.
	require.Equal(t, map[string]float64{"bitcoin": 31000}, store.updates["sub-1"])
}

func TestRunCheck_ZeroPreviousPriceNeverFires(t *testing.T) {
	// CoinGecko reports 0 for dead tokens. A stored 0 has no meaningful
	// percentage change (0 -> 0 divides to NaN), so it is treated like a
	// first observation rather than a comparison.
	tests := []struct {
		name    string
		current float64
	}{
		{"still zero", 0},
		{"revived", 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(btcSub(3, map[string]float64{"bitcoin": 0}))
			source := &fakeSource{quotes: map[string]models.PriceQuote{
				"bitcoin": quote("bitcoin", "Bitcoin", "btc", tt.current),
			}}
			alertLog := &fakeLog{}
			notifier := &fakeNotifier{}
			c := New(store, source, alertLog, notifier)

			summary, err := c.RunCheck(context.Background())
			require.NoError(t, err)
			require.Equal(t, 0, summary.AlertsSent)
			require.Empty(t, alertLog.appended)
			require.Empty(t, notifier.notified)

			// The fresh quote is still recorded for the next run.
			require.Equal(t, map[string]float64{"bitcoin": tt.current}, store.updates["sub-1"])
		})
	}
}

func TestRunCheck_ThresholdMet_Fires(t *testing.T) {
	// 30000 -> 31000 is +3.33%, at or above the 3% threshold.
	store := newFakeStore(btcSub(3, map[string]float64{"bitcoin": 30000}))
	source := &fakeSource{quotes: map[string]models.PriceQuote{
		"bitcoin": quote("bitcoin", "Bitcoin", "btc", 31000),
	}}
	alertLog := &fakeLog{}
	notifier := &fakeNotifier{}
	pub := &fakePublisher{}
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(store, source, alertLog, notifier,
		WithPublisher(pub),
		WithClock(func() time.Time { return fixed }),
	)

	summary, err := c.RunCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.AssetsChecked)
	require.Equal(t, 1, summary.AlertsSent)
	require.Len(t, summary.Alerts, 1)

	alert := summary.Alerts[0]
	require.Equal(t, "sub-1", alert.SubscriptionID)
	require.Equal(t, "user@example.com", alert.Email)
	require.Equal(t, "Bitcoin", alert.Crypto)
	require.Equal(t, "btc", alert.Symbol)
	require.Equal(t, 30000.0, alert.PreviousPrice)
	require.Equal(t, 31000.0, alert.CurrentPrice)
	require.InDelta(t, 3.3333, alert.PercentageChange, 0.001)
	require.Equal(t, fixed, alert.Timestamp)

	require.Len(t, alertLog.appended, 1)
	require.Len(t, notifier.notified, 1, "notifier invoked exactly once")
	require.Len(t, pub.published, 1)
	require.Equal(t, map[string]float64{"bitcoin": 31000}, store.updates["sub-1"])
	require.Equal(t, fixed, store.checkedAt["sub-1"])
}

func TestRunCheck_BelowThreshold_StateStillUpdated(t *testing.T) {
	// 30000 -> 30500 is +1.67%, below the 3% threshold.
	store := newFakeStore(btcSub(3, map[string]float64{"bitcoin": 30000}))
	source := &fakeSource{quotes: map[string]models.PriceQuote{
		"bitcoin": quote("bitcoin", "Bitcoin", "btc", 30500),
	}}
	alertLog := &fakeLog{}
	c := New(store, source, alertLog, &fakeNotifier{})

	summary, err := c.RunCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.AlertsSent)
	require.Empty(t, alertLog.appended)
	require.Equal(t, map[string]float64{"bitcoin": 30500}, store.updates["sub-1"])
}

func TestRunCheck_ExactThresholdFires(t *testing.T) {
	// 100 -> 103 is exactly +3%: inclusive comparison fires.
	store := newFakeStore(btcSub(3, map[string]float64{"bitcoin": 100}))
	source := &fakeSource{quotes: map[string]models.PriceQuote{
		"bitcoin": quote("bitcoin", "Bitcoin", "btc", 103),
	}}
	c := New(store, source, &fakeLog{}, &fakeNotifier{})

	summary, err := c.RunCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.AlertsSent)
}

func TestRunCheck_DropsNeverFire(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		current   float64
	}{
		{"steep drop, tiny threshold", 0.1, 20000},
		{"flat", 1, 30000},
		{"small drop", 5, 29999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(btcSub(tt.threshold, map[string]float64{"bitcoin": 30000}))
			source := &fakeSource{quotes: map[string]models.PriceQuote{
				"bitcoin": quote("bitcoin", "Bitcoin", "btc", tt.current),
			}}
			c := New(store, source, &fakeLog{}, &fakeNotifier{})

			summary, err := c.RunCheck(context.Background())
			require.NoError(t, err)
			require.Equal(t, 0, summary.AlertsSent)
		})
	}
}

func TestRunCheck_IdempotentOnUnchangedSnapshot(t *testing.T) {
	sub := btcSub(3, map[string]float64{"bitcoin": 30000})
	store := newFakeStore(sub)
	source := &fakeSource{quotes: map[string]models.PriceQuote{
		"bitcoin": quote("bitcoin", "Bitcoin", "btc", 31000),
	}}
	c := New(store, source, &fakeLog{}, &fakeNotifier{})

	first, err := c.RunCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.AlertsSent)

	// Feed the persisted state back, as the store would on the next run.
	sub.LastPrices = store.updates["sub-1"]

	second, err := c.RunCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second.AlertsSent, "unchanged snapshot must not re-fire")
}

func TestRunCheck_ProviderFailureAbortsWithoutStateChange(t *testing.T) {
	store := newFakeStore(btcSub(3, map[string]float64{"bitcoin": 30000}))
	source := &fakeSource{err: errors.New("provider down")}
	alertLog := &fakeLog{}
	c := New(store, source, alertLog, &fakeNotifier{})

	_, err := c.RunCheck(context.Background())
	require.Error(t, err)
	require.Empty(t, store.updates, "no subscription state may be written")
	require.Empty(t, alertLog.appended)
}

func TestRunCheck_ListFailureSurfaced(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("store unreachable")
	source := &fakeSource{}
	c := New(store, source, &fakeLog{}, &fakeNotifier{})

	_, err := c.RunCheck(context.Background())
	require.Error(t, err)
	require.Zero(t, source.calls)
}

func TestRunCheck_UnionIsDeduplicatedAcrossSubscriptions(t *testing.T) {
	subA := btcSub(3, nil)
	subB := &models.Subscription{
		ID:      "sub-2",
		Email:   "other@example.com",
		Cryptos: []string{"bitcoin", "ethereum"},
	}
	store := newFakeStore(subA, subB)
	source := &fakeSource{quotes: map[string]models.PriceQuote{}}
	c := New(store, source, &fakeLog{}, &fakeNotifier{})

	summary, err := c.RunCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, source.calls, "one batched provider call")
	require.ElementsMatch(t, []string{"bitcoin", "ethereum"}, source.gotIDs)
	require.Equal(t, 2, summary.AssetsChecked)
}

func TestRunCheck_DuplicateTrackedAssetsCollapse(t *testing.T) {
	sub := btcSub(3, map[string]float64{"bitcoin": 30000})
	sub.Cryptos = []string{"bitcoin", "bitcoin"}
	store := newFakeStore(sub)
	source := &fakeSource{quotes: map[string]models.PriceQuote{
		"bitcoin": quote("bitcoin", "Bitcoin", "btc", 31000),
	}}
	notifier := &fakeNotifier{}
	c := New(store, source, &fakeLog{}, notifier)

	summary, err := c.RunCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.AlertsSent, "duplicates collapse to one alert")
	require.Len(t, notifier.notified, 1)
}

func TestRunCheck_MissingQuoteKeepsStaleEntry(t *testing.T) {
	sub := &models.Subscription{
		ID:         "sub-1",
		Email:      "user@example.com",
		Threshold:  3,
		Cryptos:    []string{"bitcoin", "delisted-coin"},
		LastPrices: map[string]float64{"bitcoin": 30000, "delisted-coin": 1.5},
	}
	store := newFakeStore(sub)
	source := &fakeSource{quotes: map[string]models.PriceQuote{
		"bitcoin": quote("bitcoin", "Bitcoin", "btc", 30100),
	}}
	c := New(store, source, &fakeLog{}, &fakeNotifier{})

	_, err := c.RunCheck(context.Background())
	require.NoError(t, err)

	// The asset with no snapshot this round keeps its previous observation.
	require.Equal(t, map[string]float64{
		"bitcoin":       30100,
		"delisted-coin": 1.5,
	}, store.updates["sub-1"])
}

func TestRunCheck_NotifyFailureDoesNotBlockOthers(t *testing.T) {
	subA := btcSub(3, map[string]float64{"bitcoin": 30000})
	subB := &models.Subscription{
		ID:         "sub-2",
		Email:      "second@example.com",
		Threshold:  3,
		Cryptos:    []string{"bitcoin"},
		LastPrices: map[string]float64{"bitcoin": 30000},
	}
	store := newFakeStore(subA, subB)
	source := &fakeSource{quotes: map[string]models.PriceQuote{
		"bitcoin": quote("bitcoin", "Bitcoin", "btc", 31000),
	}}
	alertLog := &fakeLog{}
	notifier := &fakeNotifier{err: errors.New("smtp refused")}
	c := New(store, source, alertLog, notifier)

	summary, err := c.RunCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.AlertsSent)
	require.Len(t, alertLog.appended, 2, "alerts persist even when delivery fails")
	require.Len(t, notifier.notified, 2)
	require.Len(t, store.updates, 2)
}

func TestRunCheck_SubscriberStateFailureIsolated(t *testing.T) {
	subA := btcSub(3, map[string]float64{"bitcoin": 30000})
	subB := &models.Subscription{
		ID:         "sub-2",
		Email:      "second@example.com",
		Threshold:  3,
		Cryptos:    []string{"bitcoin"},
		LastPrices: map[string]float64{"bitcoin": 30000},
	}
	store := newFakeStore(subA, subB)
	store.updateErr["sub-1"] = errors.New("row gone")
	source := &fakeSource{quotes: map[string]models.PriceQuote{
		"bitcoin": quote("bitcoin", "Bitcoin", "btc", 31000),
	}}
	c := New(store, source, &fakeLog{}, &fakeNotifier{})

	summary, err := c.RunCheck(context.Background())
	require.NoError(t, err, "one subscriber's failure must not abort the run")
	require.Equal(t, 2, summary.AlertsSent)
	require.Contains(t, store.updates, "sub-2")
}

func TestRunCheck_AppendFailureSkipsThatAlertOnly(t *testing.T) {
	store := newFakeStore(btcSub(3, map[string]float64{"bitcoin": 30000}))
	source := &fakeSource{quotes: map[string]models.PriceQuote{
		"bitcoin": quote("bitcoin", "Bitcoin", "btc", 31000),
	}}
	alertLog := &fakeLog{err: errors.New("insert failed")}
	notifier := &fakeNotifier{}
	c := New(store, source, alertLog, notifier)

	summary, err := c.RunCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.AlertsSent)
	require.Empty(t, notifier.notified)
	// State still advances so the next run compares against fresh prices.
	require.Equal(t, map[string]float64{"bitcoin": 31000}, store.updates["sub-1"])
}

func TestRunCheck_PublishFailureIgnored(t *testing.T) {
	store := newFakeStore(btcSub(3, map[string]float64{"bitcoin": 30000}))
	source := &fakeSource{quotes: map[string]models.PriceQuote{
		"bitcoin": quote("bitcoin", "Bitcoin", "btc", 31000),
	}}
	pub := &fakePublisher{err: errors.New("broker down")}
	c := New(store, source, &fakeLog{}, &fakeNotifier{}, WithPublisher(pub))

	summary, err := c.RunCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.AlertsSent)
}
