package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
	"github.com/PortNumber53/beat-storefront/backend/internal/store"
)

// SessionReader loads checkout sessions.
type SessionReader interface {
	GetCheckoutSession(ctx context.Context, id string) (*models.CheckoutSession, error)
}

type orderResponse struct {
	SessionID    string                `json:"session_id"`
	Status       models.SessionStatus  `json:"status"`
	TotalCharged decimal.Decimal       `json:"total_charged"`
	Currency     string                `json:"currency"`
	Items        []models.DeliveryItem `json:"items,omitempty"`
}

// GetOrder reports an order's status for the post-payment page. Download
// items are included once the order is fulfilled.
func GetOrder(sessions SessionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		sess, err := sessions.GetCheckoutSession(r.Context(), sessionID)
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		if err != nil {
			log.Printf("GetOrder: failed to load session %s: %v", sessionID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		resp := orderResponse{
			SessionID:    sess.ID,
			Status:       sess.Status,
			TotalCharged: sess.TotalCharged,
			Currency:     sess.Currency,
		}
		if sess.Status == models.SessionFulfilled && sess.Manifest != nil {
			resp.Items = sess.Manifest.Items
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
