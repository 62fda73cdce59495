// Package pricing computes cart totals: the buy-two-get-one bundle discount,
// coupon effects, and the split of a charged total across line items in
// minor currency units.
package pricing

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

// BundleSize is the group size of the bundle offer: every BundleSize items,
// the cheapest one is free.
const BundleSize = 3

var hundred = decimal.NewFromInt(100)

// Totals is the price breakdown of a cart.
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	BundleDiscount decimal.Decimal `json:"bundle_discount"`
	CouponDiscount decimal.Decimal `json:"coupon_discount"`
	FinalTotal     decimal.Decimal `json:"final_total"`
}

// ComputeTotals prices a cart. effect may be nil when no coupon applies.
// The final total is never negative.
func ComputeTotals(cart []models.CartLineItem, effect *models.CouponEffect) Totals {
	subtotal := decimal.Zero
	prices := make([]decimal.Decimal, 0, len(cart))
	for _, item := range cart {
		subtotal = subtotal.Add(item.UnitPrice)
		prices = append(prices, item.UnitPrice)
	}

	bundle := BundleDiscount(prices)
	afterBundle := subtotal.Sub(bundle)
	coupon := CouponDiscount(afterBundle, effect)

	final := afterBundle.Sub(coupon)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return Totals{
		Subtotal:       subtotal,
		BundleDiscount: bundle,
		CouponDiscount: coupon,
		FinalTotal:     final,
	}
}

// BundleDiscount returns the sum of the floor(n/BundleSize) cheapest prices.
// Ties are irrelevant since equal prices contribute equal amounts.
func BundleDiscount(prices []decimal.Decimal) decimal.Decimal {
	free := len(prices) / BundleSize
	if free == 0 {
		return decimal.Zero
	}

	sorted := slices.Clone(prices)
	slices.SortFunc(sorted, func(a, b decimal.Decimal) int {
		return a.Cmp(b)
	})

	discount := decimal.Zero
	for _, p := range sorted[:free] {
		discount = discount.Add(p)
	}
	return discount
}

// CouponDiscount is the amount a coupon takes off the post-bundle total.
// Percentage discounts round half up to cents. The result is within
// [0, afterBundle].
func CouponDiscount(afterBundle decimal.Decimal, effect *models.CouponEffect) decimal.Decimal {
	if effect == nil || !afterBundle.IsPositive() {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch effect.Kind {
	case models.EffectPercentage:
		discount = afterBundle.Mul(effect.Percent).Div(hundred).Round(2)
	case models.EffectFixedResult:
		target := decimal.New(effect.ResultCents, -2)
		if target.GreaterThanOrEqual(afterBundle) {
			return decimal.Zero
		}
		discount = afterBundle.Sub(target)
	case models.EffectFreeOverride:
		discount = afterBundle
	default:
		return decimal.Zero
	}

	if discount.GreaterThan(afterBundle) {
		return afterBundle
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

// ToMinorUnits converts a major-unit amount to integer cents, rounding half
// away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts integer cents to a major-unit amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
