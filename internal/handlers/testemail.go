package handlers

import (
	"encoding/json"
	"net/http"
	"net/mail"

	"cryptoalerter/internal/logger"

	"go.uber.org/zap"
)

type testEmailRequest struct {
	Email string `json:"email"`
}

// TestEmailHandler sends a canned price alert so a user can verify their
// address and the SMTP setup before relying on real alerts.
func (api *API) TestEmailHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req testEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}

	if err := api.Mailer.NotifyTest(r.Context(), req.Email); err != nil {
		logger.Log.Error("Failed to send test email",
			zap.String("email", req.Email),
			zap.Error(err),
		)
		http.Error(w, "Failed to send test email", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, Response{Message: "Email sent"})
}
