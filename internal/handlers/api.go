package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"

	"cryptoalerter/internal/cache"
	"cryptoalerter/internal/logger"
	"cryptoalerter/internal/models"

	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
)

const tracerName = "crypto-alerter"

// SubscriptionStore is the persistence surface the subscription handlers
// need. *database.DB satisfies it.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscriptionByID(ctx context.Context, id string) (*models.Subscription, error)
	GetSubscriptionByEmail(ctx context.Context, email string) (*models.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// AlertHistory lists persisted alerts. *database.DB satisfies it.
type AlertHistory interface {
	ListAlerts(ctx context.Context, limit int) ([]*models.AlertRecord, error)
	ListAlertsByEmail(ctx context.Context, email string, limit int) ([]*models.AlertRecord, error)
}

// CheckRunner runs one price check.
type CheckRunner interface {
	RunCheck(ctx context.Context) (*models.CheckSummary, error)
}

// TestMailer sends the canned verification email.
type TestMailer interface {
	NotifyTest(ctx context.Context, to string) error
}

// API holds the handlers' collaborators. Cache and Limiter may be nil, in
// which case response caching and rate limiting are skipped.
type API struct {
	Subscriptions SubscriptionStore
	History       AlertHistory
	Checker       CheckRunner
	Mailer        TestMailer
	Cache         *cache.Cache
	Limiter       *redis_rate.Limiter
	Hub           *Hub
	Instance      string
	CronSecret    string
}

type Response struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Routes registers every endpoint on the given mux.
func (api *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/subscriptions", api.rateLimited(api.SubscriptionsHandler))
	mux.HandleFunc("/subscriptions/", api.rateLimited(api.SubscriptionsHandler))
	mux.HandleFunc("/alerts", api.HistoryHandler)
	mux.HandleFunc("/alerts/stream", api.StreamAlertsHandler)
	mux.HandleFunc("/alerts/ws", api.StreamAlertsWSHandler)
	mux.HandleFunc("/check-prices", api.CheckPricesHandler)
	mux.HandleFunc("/test-email", api.rateLimited(api.TestEmailHandler))
	mux.HandleFunc("/healthz", api.HealthHandler)
}

// HealthHandler reports liveness.
func (api *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// rateLimited wraps a handler with a per-IP limiter on mutating endpoints.
func (api *API) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api.Limiter == nil || r.Method == http.MethodGet {
			next(w, r)
			return
		}

		ip := clientIP(r)
		res, err := api.Limiter.Allow(r.Context(), "ratelimit:"+ip, redis_rate.PerMinute(30))
		if err != nil {
			logger.Log.Warn("Rate limiter unavailable, letting request through",
				zap.String("ip", ip),
				zap.Error(err),
			)
			next(w, r)
			return
		}
		if res.Allowed == 0 {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func generateCacheKey(r *http.Request, prefix string) string {
	queryParams := r.URL.Query()
	var keys []string
	for k := range queryParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var queryString []string
	for _, k := range keys {
		queryString = append(queryString, fmt.Sprintf("%s=%s", k, strings.Join(queryParams[k], ",")))
	}
	joinedParams := strings.Join(queryString, "&")

	hash := sha256.Sum256([]byte(joinedParams))
	return prefix + hex.EncodeToString(hash[:8])
}
