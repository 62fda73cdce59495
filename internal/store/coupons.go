package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

var (
	// ErrCouponNotFound is returned when no coupon has the given code.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponExists is returned when creating a code that is already taken.
	ErrCouponExists = errors.New("coupon already exists")
	// ErrCouponNotRedeemable is returned when the conditional redeem update
	// matched no row: the coupon is missing, inactive, expired or used up.
	ErrCouponNotRedeemable = errors.New("coupon not redeemable")
)

const couponColumns = `code, effect_kind, percent_off, result_cents, max_uses, uses_so_far,
	bound_email, active, expires_at, created_at, updated_at`

// GetCoupon loads a coupon by its normalised code.
func (s *Store) GetCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	coupon, err := scanCoupon(s.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get coupon %s: %w", code, err)
	}
	return coupon, nil
}

// CreateCoupon inserts a new coupon and fills its timestamps.
func (s *Store) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	const query = `
INSERT INTO coupons (code, effect_kind, percent_off, result_cents, max_uses, bound_email, active, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (code) DO NOTHING
RETURNING uses_so_far, created_at, updated_at
`
	err := s.db.QueryRowContext(ctx, query,
		c.Code,
		string(c.Effect.Kind),
		c.Effect.Percent,
		c.Effect.ResultCents,
		c.MaxUses,
		stringOrNull(c.BoundEmail),
		c.Active,
		timeOrNull(c.ExpiresAt),
	).Scan(&c.UsesSoFar, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCouponExists
	}
	if err != nil {
		return fmt.Errorf("store: create coupon %s: %w", c.Code, err)
	}
	return nil
}

// RedeemCoupon consumes one use in a single conditional update. Concurrent
// callers serialise on the row, so a coupon with one use left is redeemed by
// exactly one of them; the rest get ErrCouponNotRedeemable.
func (s *Store) RedeemCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	query := `
UPDATE coupons
SET uses_so_far = uses_so_far + 1,
    updated_at = NOW()
WHERE code = $1
  AND active
  AND (expires_at IS NULL OR expires_at > NOW())
  AND (max_uses = 0 OR uses_so_far < max_uses)
RETURNING ` + couponColumns

	coupon, err := scanCoupon(s.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCouponNotRedeemable
	}
	if err != nil {
		return nil, fmt.Errorf("store: redeem coupon %s: %w", code, err)
	}
	return coupon, nil
}

// DeactivateCoupon soft deletes a coupon.
func (s *Store) DeactivateCoupon(ctx context.Context, code string) error {
	result, err := s.db.ExecContext(ctx, `
UPDATE coupons
SET active = FALSE, updated_at = NOW()
WHERE code = $1
`, code)
	if err != nil {
		return fmt.Errorf("store: deactivate coupon %s: %w", code, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: deactivate coupon %s: %w", code, err)
	}
	if affected == 0 {
		return ErrCouponNotFound
	}
	return nil
}

func scanCoupon(row rowScanner) (*models.Coupon, error) {
	var (
		c          models.Coupon
		kind       string
		boundEmail sql.NullString
		expiresAt  sql.NullTime
	)
	err := row.Scan(
		&c.Code,
		&kind,
		&c.Effect.Percent,
		&c.Effect.ResultCents,
		&c.MaxUses,
		&c.UsesSoFar,
		&boundEmail,
		&c.Active,
		&expiresAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Effect.Kind = models.EffectKind(kind)
	c.BoundEmail = nullString(boundEmail)
	c.ExpiresAt = nullTime(expiresAt)
	return &c, nil
}
