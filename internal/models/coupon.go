package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EffectKind tags the variant held by a CouponEffect.
type EffectKind string

const (
	// EffectPercentage takes Percent off the post-bundle total.
	EffectPercentage EffectKind = "percentage"
	// EffectFixedResult reduces the post-bundle total to exactly ResultCents.
	EffectFixedResult EffectKind = "fixed_result"
	// EffectFreeOverride makes the order free.
	EffectFreeOverride EffectKind = "free_override"
)

var hundred = decimal.NewFromInt(100)

// CouponEffect describes what a coupon does to a cart total.
type CouponEffect struct {
	Kind        EffectKind      `json:"kind"`
	Percent     decimal.Decimal `json:"percent,omitempty"`
	ResultCents int64           `json:"result_cents,omitempty"`
}

// PercentageOff builds a percentage effect.
func PercentageOff(percent decimal.Decimal) CouponEffect {
	return CouponEffect{Kind: EffectPercentage, Percent: percent}
}

// FixedResult builds an effect that charges exactly cents minor units.
func FixedResult(cents int64) CouponEffect {
	return CouponEffect{Kind: EffectFixedResult, ResultCents: cents}
}

// FreeOverride builds a 100%-off effect.
func FreeOverride() CouponEffect {
	return CouponEffect{Kind: EffectFreeOverride}
}

// Validate checks the effect parameters for the tagged kind.
func (e CouponEffect) Validate() error {
	switch e.Kind {
	case EffectPercentage:
		if !e.Percent.IsPositive() || e.Percent.GreaterThan(hundred) {
			return fmt.Errorf("percent must be in (0, 100], got %s", e.Percent)
		}
	case EffectFixedResult:
		if e.ResultCents < 0 {
			return fmt.Errorf("result cents must not be negative, got %d", e.ResultCents)
		}
	case EffectFreeOverride:
	default:
		return fmt.Errorf("unknown coupon effect %q", e.Kind)
	}
	return nil
}

// PercentOff is the nominal percentage reported to clients. Fixed-result
// coupons report zero because their discount depends on the cart.
func (e CouponEffect) PercentOff() decimal.Decimal {
	switch e.Kind {
	case EffectPercentage:
		return e.Percent
	case EffectFreeOverride:
		return hundred
	default:
		return decimal.Zero
	}
}

// Coupon is a discount code. Codes are stored upper case.
type Coupon struct {
	Code       string       `json:"code"`
	Effect     CouponEffect `json:"effect"`
	MaxUses    int          `json:"max_uses"`
	UsesSoFar  int          `json:"uses_so_far"`
	BoundEmail *string      `json:"bound_email,omitempty"`
	Active     bool         `json:"active"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Exhausted reports whether a limited coupon has no uses left.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses > 0 && c.UsesSoFar >= c.MaxUses
}

// ExpiredAt reports whether the coupon is inactive or past its expiry at now.
func (c *Coupon) ExpiredAt(now time.Time) bool {
	if !c.Active {
		return true
	}
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}
