// Package coupons validates and redeems discount codes.
package coupons

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
	"github.com/PortNumber53/beat-storefront/backend/internal/store"
)

var (
	ErrNotFound      = errors.New("coupon not found")
	ErrExpired       = errors.New("coupon expired")
	ErrUsageExceeded = errors.New("coupon usage limit reached")
	ErrEmailMismatch = errors.New("coupon is not valid for this email")
	ErrInvalid       = errors.New("invalid coupon")
	ErrExists        = errors.New("coupon already exists")
)

// Store defines the persistence the engine needs.
type Store interface {
	GetCoupon(ctx context.Context, code string) (*models.Coupon, error)
	CreateCoupon(ctx context.Context, c *models.Coupon) error
	RedeemCoupon(ctx context.Context, code string) (*models.Coupon, error)
	DeactivateCoupon(ctx context.Context, code string) error
}

// Engine applies coupon rules on top of Store.
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(s Store) *Engine {
	return &Engine{store: s, now: time.Now}
}

// NormalizeCode trims and upper-cases a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeEmail trims and lower-cases an email for comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks that code can be applied by buyerEmail right now and
// returns its effect. Failures are reported in a fixed order: ErrNotFound,
// ErrExpired, ErrUsageExceeded, ErrEmailMismatch. Validation does not
// consume a use.
func (e *Engine) Validate(ctx context.Context, code, buyerEmail string) (*models.Coupon, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, ErrNotFound
	}

	c, err := e.store.GetCoupon(ctx, normalized)
	if errors.Is(err, store.ErrCouponNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("coupons: validate %s: %w", normalized, err)
	}

	if c.ExpiredAt(e.now()) {
		return nil, ErrExpired
	}
	if c.Exhausted() {
		return nil, ErrUsageExceeded
	}
	if c.BoundEmail != nil && *c.BoundEmail != "" && NormalizeEmail(*c.BoundEmail) != NormalizeEmail(buyerEmail) {
		return nil, ErrEmailMismatch
	}
	return c, nil
}

// Redeem consumes one use of code. The increment is a single conditional
// update so the usage limit holds under concurrent redemption.
func (e *Engine) Redeem(ctx context.Context, code string) (*models.Coupon, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, ErrNotFound
	}

	c, err := e.store.RedeemCoupon(ctx, normalized)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrCouponNotRedeemable) {
		return nil, fmt.Errorf("coupons: redeem %s: %w", normalized, err)
	}

	current, err := e.store.GetCoupon(ctx, normalized)
	if errors.Is(err, store.ErrCouponNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("coupons: redeem %s: %w", normalized, err)
	}
	if current.ExpiredAt(e.now()) {
		return nil, ErrExpired
	}
	return nil, ErrUsageExceeded
}

// Input describes a coupon to create.
type Input struct {
	Code       string
	Effect     models.CouponEffect
	MaxUses    int
	BoundEmail string
	ExpiresAt  *time.Time
}

// Create validates in and stores a new active coupon.
func (e *Engine) Create(ctx context.Context, in Input) (*models.Coupon, error) {
	code := NormalizeCode(in.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalid)
	}
	if err := in.Effect.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if in.MaxUses < 0 {
		return nil, fmt.Errorf("%w: max uses must not be negative", ErrInvalid)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(e.now()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalid)
	}

	c := &models.Coupon{
		Code:      code,
		Effect:    in.Effect,
		MaxUses:   in.MaxUses,
		Active:    true,
		ExpiresAt: in.ExpiresAt,
	}
	if email := NormalizeEmail(in.BoundEmail); email != "" {
		c.BoundEmail = &email
	}

	if err := e.store.CreateCoupon(ctx, c); err != nil {
		if errors.Is(err, store.ErrCouponExists) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("coupons: create %s: %w", code, err)
	}
	return c, nil
}

// Deactivate disables a coupon; existing redemptions are unaffected.
func (e *Engine) Deactivate(ctx context.Context, code string) error {
	normalized := NormalizeCode(code)
	if err := e.store.DeactivateCoupon(ctx, normalized); err != nil {
		if errors.Is(err, store.ErrCouponNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("coupons: deactivate %s: %w", normalized, err)
	}
	return nil
}

// Reason maps a rule failure to a stable machine-readable string. It returns
// "" for errors that are not rule failures.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrUsageExceeded):
		return "usage_exceeded"
	case errors.Is(err, ErrEmailMismatch):
		return "email_mismatch"
	default:
		return ""
	}
}
