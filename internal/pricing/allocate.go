package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

// Allocate splits total across the cart lines in proportion to their unit
// prices using the largest remainder method. The returned minor-unit amounts
// are non-negative and sum exactly to ToMinorUnits(total). Remainder cents go
// to the largest fractional shares first, ties to the earlier line.
//
// A cart whose prices are all zero is split evenly.
func Allocate(cart []models.CartLineItem, total decimal.Decimal) []int64 {
	shares := make([]int64, len(cart))
	totalCents := ToMinorUnits(total)
	if len(cart) == 0 || totalCents <= 0 {
		return shares
	}

	weights := make([]int64, len(cart))
	var weightSum int64
	for i, item := range cart {
		w := ToMinorUnits(item.UnitPrice)
		if w < 0 {
			w = 0
		}
		weights[i] = w
		weightSum += w
	}

	if weightSum == 0 {
		n := int64(len(cart))
		for i := range shares {
			shares[i] = totalCents / n
			if int64(i) < totalCents%n {
				shares[i]++
			}
		}
		return shares
	}

	type remainder struct {
		index int
		frac  decimal.Decimal
	}
	remainders := make([]remainder, len(cart))
	totalDec := decimal.NewFromInt(totalCents)
	sumDec := decimal.NewFromInt(weightSum)

	var assigned int64
	for i, w := range weights {
		exact := decimal.NewFromInt(w).Mul(totalDec).Div(sumDec)
		floor := exact.Floor()
		shares[i] = floor.IntPart()
		assigned += shares[i]
		remainders[i] = remainder{index: i, frac: exact.Sub(floor)}
	}

	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].frac.GreaterThan(remainders[b].frac)
	})
	for left, k := totalCents-assigned, 0; left > 0; left, k = left-1, k+1 {
		shares[remainders[k%len(remainders)].index]++
	}
	return shares
}
