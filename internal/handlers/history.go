package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"cryptoalerter/internal/logger"
	"cryptoalerter/internal/models"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

// HistoryHandler lists fired alerts, newest first, optionally filtered by
// email. Responses are cached briefly; writes invalidate the prefix.
func (api *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "HistoryHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()
	cacheKey := generateCacheKey(r, "alert_history_")

	if api.Cache != nil {
		cached, err := api.Cache.Get(ctx, cacheKey, "/alerts", api.Instance)
		if err == nil && cached != "" {
			logger.Log.Info("Cache hit for /alerts",
				zap.String("trace_id", traceID),
				zap.String("cache_key", cacheKey),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(cached))
			return
		}
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var alerts []*models.AlertRecord
	var dbErr error
	if email := r.URL.Query().Get("email"); email != "" {
		alerts, dbErr = api.History.ListAlertsByEmail(ctx, email, limit)
	} else {
		alerts, dbErr = api.History.ListAlerts(ctx, limit)
	}
	if dbErr != nil {
		logger.Log.Error("Failed to fetch alert history",
			zap.String("trace_id", traceID),
			zap.Error(dbErr),
		)
		http.Error(w, "Failed to fetch alert history", http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []*models.AlertRecord{}
	}

	response := Response{
		Message: "Alert history retrieved successfully",
		Data:    alerts,
	}

	respBytes, err := json.Marshal(response)
	if err != nil {
		logger.Log.Error("Failed to encode JSON response",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		http.Error(w, "Failed to encode JSON response", http.StatusInternalServerError)
		return
	}

	if api.Cache != nil {
		if cacheErr := api.Cache.Set(ctx, cacheKey, string(respBytes), 30*time.Second); cacheErr != nil {
			logger.Log.Warn("Failed to store response in cache",
				zap.String("trace_id", traceID),
				zap.String("cache_key", cacheKey),
				zap.Error(cacheErr),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(respBytes)
}
