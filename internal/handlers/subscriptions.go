package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"cryptoalerter/internal/database"
	"cryptoalerter/internal/logger"
	"cryptoalerter/internal/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type CreateSubscriptionRequest struct {
	Email           string   `json:"email"`
	Threshold       float64  `json:"threshold"`
	IntervalMinutes int      `json:"interval_minutes"`
	Cryptos         []string `json:"cryptos"`
}

// SubscriptionsHandler dispatches subscription operations by method.
// URL patterns: /subscriptions and /subscriptions/{id}.
func (api *API) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/subscriptions")
	id := strings.Trim(path, "/")

	if id == "" {
		switch r.Method {
		case http.MethodGet:
			api.getSubscriptionByEmail(w, r)
		case http.MethodPost:
			api.createSubscription(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		api.getSubscription(w, r, id)
	case http.MethodDelete:
		api.deleteSubscription(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// createSubscription saves a subscription. Re-subscribing with an email that
// already has one replaces it wholesale.
func (api *API) createSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "CreateSubscriptionHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()

	var req CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.Error("Failed to parse request body",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if msg := validateSubscription(&req); msg != "" {
		logger.Log.Error("Invalid subscription request",
			zap.String("trace_id", traceID),
			zap.String("reason", msg),
		)
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	now := time.Now()
	sub := &models.Subscription{
		ID:              uuid.New().String(),
		Email:           req.Email,
		Threshold:       req.Threshold,
		IntervalMinutes: req.IntervalMinutes,
		Cryptos:         req.Cryptos,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := api.Subscriptions.CreateSubscription(ctx, sub); err != nil {
		logger.Log.Error("Failed to create subscription",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		http.Error(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, Response{
		Message: "Settings saved",
		Data:    sub,
	})
}

func (api *API) getSubscriptionByEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "GetSubscriptionByEmailHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()

	email := r.URL.Query().Get("email")
	if email == "" {
		http.Error(w, "Missing required query parameter: email", http.StatusBadRequest)
		return
	}

	sub, err := api.Subscriptions.GetSubscriptionByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Subscription not found", http.StatusNotFound)
			return
		}
		logger.Log.Error("Failed to fetch subscription",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		http.Error(w, "Failed to fetch settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Message: "Settings retrieved successfully",
		Data:    sub,
	})
}

func (api *API) getSubscription(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "GetSubscriptionHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()

	sub, err := api.Subscriptions.GetSubscriptionByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Subscription not found", http.StatusNotFound)
			return
		}
		logger.Log.Error("Failed to fetch subscription",
			zap.String("trace_id", traceID),
			zap.String("subscription_id", id),
			zap.Error(err),
		)
		http.Error(w, "Failed to fetch settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Message: "Settings retrieved successfully",
		Data:    sub,
	})
}

func (api *API) deleteSubscription(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "DeleteSubscriptionHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()

	if err := api.Subscriptions.DeleteSubscription(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Subscription not found", http.StatusNotFound)
			return
		}
		logger.Log.Error("Failed to delete subscription",
			zap.String("trace_id", traceID),
			zap.String("subscription_id", id),
			zap.Error(err),
		)
		http.Error(w, "Failed to delete settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, Response{Message: "Settings deleted"})
}

func validateSubscription(req *CreateSubscriptionRequest) string {
	if req.Email == "" || len(req.Cryptos) == 0 {
		return "Missing required fields: email, threshold, interval_minutes, cryptos"
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return "Invalid email address"
	}
	if req.Threshold <= 0 {
		return "Threshold must be a positive percentage"
	}
	if req.IntervalMinutes < 1 {
		return "Interval must be at least one minute"
	}
	for _, id := range req.Cryptos {
		if strings.TrimSpace(id) == "" {
			return "Crypto ids must be non-empty"
		}
	}
	return ""
}
