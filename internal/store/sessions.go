package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

var (
	// ErrSessionNotFound is returned when no checkout session has the id.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrSessionExists is returned when a session id is inserted twice.
	ErrSessionExists = errors.New("checkout session already exists")
	// ErrSessionNotPaid is returned when fulfillment is attempted on a
	// session that has not been marked paid.
	ErrSessionNotPaid = errors.New("checkout session not paid")
)

// ManifestBuilder produces the delivery manifest for a paid session.
type ManifestBuilder func(ctx context.Context, session *models.CheckoutSession) (*models.DeliveryManifest, error)

const sessionColumns = `id, buyer_email, buyer_name, coupon_code, cart_snapshot, subtotal,
	bundle_discount, coupon_discount, total_charged, currency, status, manifest,
	paid_at, fulfilled_at, created_at, updated_at`

// CreateCheckoutSession records a new session in the CREATED state unless
// another status is set on it.
func (s *Store) CreateCheckoutSession(ctx context.Context, sess *models.CheckoutSession) error {
	cart, err := json.Marshal(sess.Cart)
	if err != nil {
		return fmt.Errorf("store: encode cart for %s: %w", sess.ID, err)
	}
	if sess.Status == "" {
		sess.Status = models.SessionCreated
	}

	var coupon *string
	if sess.CouponCode != "" {
		coupon = &sess.CouponCode
	}

	const query = `
INSERT INTO checkout_sessions (id, buyer_email, buyer_name, coupon_code, cart_snapshot, subtotal,
	bundle_discount, coupon_discount, total_charged, currency, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING
RETURNING created_at, updated_at
`
	err = s.db.QueryRowContext(ctx, query,
		sess.ID,
		sess.BuyerEmail,
		sess.BuyerName,
		stringOrNull(coupon),
		cart,
		sess.Subtotal,
		sess.BundleDiscount,
		sess.CouponDiscount,
		sess.TotalCharged,
		sess.Currency,
		string(sess.Status),
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionExists
	}
	if err != nil {
		return fmt.Errorf("store: create checkout session %s: %w", sess.ID, err)
	}
	return nil
}

// GetCheckoutSession loads a session by provider session id.
func (s *Store) GetCheckoutSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE id = $1`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get checkout session %s: %w", id, err)
	}
	return sess, nil
}

// MarkSessionPaid moves a CREATED session to PAID. It reports false when the
// session was already past CREATED.
func (s *Store) MarkSessionPaid(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
UPDATE checkout_sessions
SET status = 'PAID', paid_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'CREATED'
`, id)
	if err != nil {
		return false, fmt.Errorf("store: mark session %s paid: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark session %s paid: %w", id, err)
	}
	return affected == 1, nil
}

// FulfillSession builds the manifest for a PAID session and stores it with
// status FULFILLED through a conditional update, so exactly one caller
// performs the transition. No connection is held while build runs, which
// leaves build free to read the catalog through the same pool.
//
// If the session is already FULFILLED the stored manifest is returned with
// fulfilled=false and build is not called. A caller that loses a concurrent
// race gets the winner's manifest and fulfilled=false.
func (s *Store) FulfillSession(ctx context.Context, id string, build ManifestBuilder) (manifest *models.DeliveryManifest, fulfilled bool, err error) {
	sess, err := s.GetCheckoutSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if sess.Status.IsTerminal() {
		return sess.Manifest, false, nil
	}
	if !sess.Status.CanTransitionTo(models.SessionFulfilled) {
		return nil, false, ErrSessionNotPaid
	}

	manifest, err = build(ctx, sess)
	if err != nil {
		return nil, false, err
	}
	encoded, err := json.Marshal(manifest)
	if err != nil {
		return nil, false, fmt.Errorf("store: encode manifest for %s: %w", id, err)
	}

	result, err := s.db.ExecContext(ctx, `
UPDATE checkout_sessions
SET status = 'FULFILLED', manifest = $2, fulfilled_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'PAID'
`, id, encoded)
	if err != nil {
		return nil, false, fmt.Errorf("store: save manifest for %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("store: save manifest for %s: %w", id, err)
	}
	if affected == 1 {
		return manifest, true, nil
	}

	current, err := s.GetCheckoutSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current.Status.IsTerminal() {
		return current.Manifest, false, nil
	}
	return nil, false, ErrSessionNotPaid
}

func scanSession(row rowScanner) (*models.CheckoutSession, error) {
	var (
		sess        models.CheckoutSession
		coupon      sql.NullString
		cart        []byte
		manifest    []byte
		status      string
		paidAt      sql.NullTime
		fulfilledAt sql.NullTime
	)
	err := row.Scan(
		&sess.ID,
		&sess.BuyerEmail,
		&sess.BuyerName,
		&coupon,
		&cart,
		&sess.Subtotal,
		&sess.BundleDiscount,
		&sess.CouponDiscount,
		&sess.TotalCharged,
		&sess.Currency,
		&status,
		&manifest,
		&paidAt,
		&fulfilledAt,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.CouponCode = coupon.String
	sess.Status = models.SessionStatus(status)
	sess.PaidAt = nullTime(paidAt)
	sess.FulfilledAt = nullTime(fulfilledAt)

	if len(cart) > 0 {
		if err := json.Unmarshal(cart, &sess.Cart); err != nil {
			return nil, fmt.Errorf("decode cart snapshot: %w", err)
		}
	}
	if len(manifest) > 0 {
		sess.Manifest = &models.DeliveryManifest{}
		if err := json.Unmarshal(manifest, sess.Manifest); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
	}
	return &sess, nil
}
