package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"cryptoalerter/internal/logger"
	"cryptoalerter/internal/provider"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type checkResponse struct {
	Message       string      `json:"message"`
	AssetsChecked int         `json:"assets_checked"`
	AlertsSent    int         `json:"alerts_sent"`
	Alerts        interface{} `json:"alerts"`
}

// CheckPricesHandler is the scheduler-facing trigger. It is gated by the
// cron shared secret; an invalid or missing credential is rejected before
// any work happens.
func (api *API) CheckPricesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !api.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "CheckPricesHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()

	summary, err := api.Checker.RunCheck(ctx)
	if err != nil {
		logger.Log.Error("Price check failed",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		status := http.StatusInternalServerError
		msg := "Price check failed"
		if errors.Is(err, provider.ErrUnavailable) {
			status = http.StatusBadGateway
			msg = "Price provider unavailable"
		}
		http.Error(w, msg, status)
		return
	}

	if api.Cache != nil && summary.AlertsSent > 0 {
		api.Cache.InvalidateByPrefix(ctx, "alert_history_", "/check-prices", api.Instance)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(checkResponse{
		Message:       "Price check completed",
		AssetsChecked: summary.AssetsChecked,
		AlertsSent:    summary.AlertsSent,
		Alerts:        summary.Alerts,
	})
}

func (api *API) authorized(r *http.Request) bool {
	if api.CronSecret == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	want := "Bearer " + api.CronSecret
	return subtle.ConstantTimeCompare([]byte(auth), []byte(want)) == 1
}
