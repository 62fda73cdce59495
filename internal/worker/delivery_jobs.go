package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
	"github.com/PortNumber53/beat-storefront/backend/internal/notify"
)

// ErrNotDeliverable is returned when a resend targets a session that has no
// manifest yet.
var ErrNotDeliverable = errors.New("session is not fulfilled")

// SessionReader loads checkout sessions.
type SessionReader interface {
	GetCheckoutSession(ctx context.Context, id string) (*models.CheckoutSession, error)
}

// RegisterDeliveryJobs registers the delivery resend handler.
func RegisterDeliveryJobs(w *Worker, sessions SessionReader, notifier notify.Notifier) {
	w.RegisterHandler(models.JobTypeDeliveryResend, deliveryResendHandler(sessions, notifier))
	log.Printf("[worker] registered job handlers: %s", models.JobTypeDeliveryResend)
}

// deliveryResendHandler re-sends the stored manifest. The manifest is never
// rebuilt here, so a resend cannot change what the buyer was sold.
func deliveryResendHandler(sessions SessionReader, notifier notify.Notifier) Handler {
	return func(ctx context.Context, job *models.Job) error {
		sessionID := job.PayloadString("session_id")
		if sessionID == "" {
			return fmt.Errorf("missing session_id in payload")
		}

		sess, err := sessions.GetCheckoutSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session %s: %w", sessionID, err)
		}
		if sess.Status != models.SessionFulfilled || sess.Manifest == nil {
			return fmt.Errorf("resend %s (status %s): %w", sessionID, sess.Status, ErrNotDeliverable)
		}

		if err := notifier.SendDelivery(ctx, sess.Manifest); err != nil {
			return fmt.Errorf("send delivery for %s: %w", sessionID, err)
		}
		log.Printf("[worker] resent delivery for session %s to %s", sessionID, sess.Manifest.BuyerEmail)
		return nil
	}
}
