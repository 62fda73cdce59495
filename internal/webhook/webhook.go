// Package webhook receives payment provider events and drives paid sessions
// through fulfillment exactly once.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/PortNumber53/beat-storefront/backend/internal/checkout"
	"github.com/PortNumber53/beat-storefront/backend/internal/models"
	"github.com/PortNumber53/beat-storefront/backend/internal/notify"
	"github.com/PortNumber53/beat-storefront/backend/internal/pricing"
	"github.com/PortNumber53/beat-storefront/backend/internal/store"
	"github.com/PortNumber53/beat-storefront/backend/internal/stripe"
)

const maxPayloadBytes = 1 << 20

// SessionStore is the persistence the processor needs.
type SessionStore interface {
	GetCheckoutSession(ctx context.Context, id string) (*models.CheckoutSession, error)
	CreateCheckoutSession(ctx context.Context, sess *models.CheckoutSession) error
	MarkSessionPaid(ctx context.Context, id string) (bool, error)
	FulfillSession(ctx context.Context, id string, build store.ManifestBuilder) (*models.DeliveryManifest, bool, error)
}

// ManifestBuilder turns a paid session into a delivery manifest.
type ManifestBuilder interface {
	BuildManifest(ctx context.Context, sess *models.CheckoutSession) (*models.DeliveryManifest, error)
}

// CouponRedeemer consumes a coupon use.
type CouponRedeemer interface {
	Redeem(ctx context.Context, code string) (*models.Coupon, error)
}

// Config holds webhook verification and processing settings.
type Config struct {
	Secret    string
	Tolerance time.Duration
	Timeout   time.Duration
}

// Processor verifies and handles webhook deliveries.
type Processor struct {
	cfg      Config
	sessions SessionStore
	builder  ManifestBuilder
	coupons  CouponRedeemer
	notifier notify.Notifier
	inflight singleflight.Group
	now      func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(cfg Config, sessions SessionStore, builder ManifestBuilder, redeemer CouponRedeemer, notifier notify.Notifier) *Processor {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = stripe.DefaultTolerance
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &Processor{
		cfg:      cfg,
		sessions: sessions,
		builder:  builder,
		coupons:  redeemer,
		notifier: notifier,
		now:      time.Now,
	}
}

// ServeHTTP verifies the signature, processes the event synchronously within
// the configured timeout and acknowledges with 200. Signature failures get
// 400 and processing failures 500 so the provider redelivers.
func (p *Processor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	event, err := stripe.ConstructEvent(payload, r.Header.Get(stripe.SignatureHeader), p.cfg.Secret, p.cfg.Tolerance, p.now())
	if err != nil {
		log.Printf("[webhook] rejected delivery: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.cfg.Timeout)
	defer cancel()

	if err := p.HandleEvent(ctx, event); err != nil {
		log.Printf("[webhook] event %s (%s) failed: %v", event.ID, event.Type, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// HandleEvent dispatches a verified event. Unknown event types are
// acknowledged and ignored.
func (p *Processor) HandleEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventCheckoutSessionCompleted, stripe.EventCheckoutSessionAsyncPaymentSucceeded:
	default:
		log.Printf("[webhook] ignoring event %s of type %s", event.ID, event.Type)
		return nil
	}

	obj, err := event.CheckoutSession()
	if err != nil {
		return err
	}
	if !obj.Paid() {
		log.Printf("[webhook] session %s completed with payment_status=%s; waiting for payment", obj.ID, obj.PaymentStatus)
		return nil
	}

	_, err, shared := p.inflight.Do(obj.ID, func() (interface{}, error) {
		return nil, p.CompletePayment(ctx, obj)
	})
	if shared {
		log.Printf("[webhook] session %s: joined in-flight processing", obj.ID)
	}
	return err
}

// CompletePayment marks the session paid and fulfills it. Redeliveries of an
// already fulfilled session return nil without side effects. Only the call
// that performs the FULFILLED transition redeems the coupon and notifies the
// buyer; failures of those two steps are logged and do not fail the event.
func (p *Processor) CompletePayment(ctx context.Context, obj *stripe.CheckoutSessionObject) error {
	sess, err := p.loadOrRebuildSession(ctx, obj)
	if err != nil {
		return err
	}

	if sess.Status.IsTerminal() {
		log.Printf("[webhook] session %s already fulfilled; duplicate delivery", sess.ID)
		return nil
	}
	if sess.Status.CanTransitionTo(models.SessionPaid) {
		if _, err := p.sessions.MarkSessionPaid(ctx, sess.ID); err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
	}

	manifest, fulfilled, err := p.sessions.FulfillSession(ctx, sess.ID, p.builder.BuildManifest)
	if err != nil {
		return fmt.Errorf("fulfill session %s: %w", sess.ID, err)
	}
	if !fulfilled {
		log.Printf("[webhook] session %s fulfilled concurrently; skipping side effects", sess.ID)
		return nil
	}
	log.Printf("[webhook] session %s fulfilled: %d items for %s", sess.ID, len(manifest.Items), manifest.BuyerEmail)

	if sess.CouponCode != "" {
		if _, err := p.coupons.Redeem(ctx, sess.CouponCode); err != nil {
			log.Printf("[webhook] session %s: coupon %s redeem failed: %v", sess.ID, sess.CouponCode, err)
		}
	}
	if err := p.notifier.SendDelivery(ctx, manifest); err != nil {
		log.Printf("[webhook] session %s: delivery notification failed, resend required: %v", sess.ID, err)
	}
	return nil
}

// loadOrRebuildSession returns the local session, recreating it from the
// event metadata when the local row is missing.
func (p *Processor) loadOrRebuildSession(ctx context.Context, obj *stripe.CheckoutSessionObject) (*models.CheckoutSession, error) {
	sess, err := p.sessions.GetCheckoutSession(ctx, obj.ID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		return nil, fmt.Errorf("load session %s: %w", obj.ID, err)
	}

	log.Printf("[webhook] session %s unknown locally; rebuilding from event metadata", obj.ID)
	rebuilt, err := sessionFromEvent(obj)
	if err != nil {
		return nil, err
	}
	if err := p.sessions.CreateCheckoutSession(ctx, rebuilt); err != nil && !errors.Is(err, store.ErrSessionExists) {
		return nil, fmt.Errorf("record rebuilt session %s: %w", obj.ID, err)
	}
	return p.sessions.GetCheckoutSession(ctx, obj.ID)
}

func sessionFromEvent(obj *stripe.CheckoutSessionObject) (*models.CheckoutSession, error) {
	cart, err := checkout.DecodeCart(obj.Metadata)
	if err != nil {
		return nil, fmt.Errorf("rebuild session %s: %w", obj.ID, err)
	}

	email := firstNonEmpty(obj.Metadata[checkout.MetaBuyerEmail], obj.CustomerDetails.Email, obj.CustomerEmail)
	if email == "" {
		return nil, fmt.Errorf("rebuild session %s: no buyer email", obj.ID)
	}

	totals := pricing.ComputeTotals(cart, nil)
	charged := pricing.FromMinorUnits(obj.AmountTotal)
	couponDiscount := totals.FinalTotal.Sub(charged)
	if couponDiscount.IsNegative() {
		couponDiscount = totals.CouponDiscount
	}

	return &models.CheckoutSession{
		ID:             obj.ID,
		BuyerEmail:     email,
		BuyerName:      firstNonEmpty(obj.Metadata[checkout.MetaBuyerName], obj.CustomerDetails.Name),
		CouponCode:     obj.Metadata[checkout.MetaCouponCode],
		Cart:           cart,
		Subtotal:       totals.Subtotal,
		BundleDiscount: totals.BundleDiscount,
		CouponDiscount: couponDiscount,
		TotalCharged:   charged,
		Currency:       strings.ToLower(firstNonEmpty(obj.Currency, "usd")),
		Status:         models.SessionCreated,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
