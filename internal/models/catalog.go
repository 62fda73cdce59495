package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// LicenseTier is the purchase level attached to a cart line. Beat tiers are
// ordered BASIC < PREMIUM < UNLIMITED < EXCLUSIVE; SOUNDKIT sits outside that
// ladder and is used for sound kit products.
type LicenseTier string

const (
	TierBasic     LicenseTier = "BASIC"
	TierPremium   LicenseTier = "PREMIUM"
	TierUnlimited LicenseTier = "UNLIMITED"
	TierExclusive LicenseTier = "EXCLUSIVE"
	TierSoundKit  LicenseTier = "SOUNDKIT"
)

var tierRanks = map[LicenseTier]int{
	TierBasic:     1,
	TierPremium:   2,
	TierUnlimited: 3,
	TierExclusive: 4,
}

var tierLabels = map[LicenseTier]string{
	TierBasic:     "Basic License",
	TierPremium:   "Premium License",
	TierUnlimited: "Unlimited License",
	TierExclusive: "Exclusive License",
	TierSoundKit:  "Sound Kit",
}

// ParseLicenseTier accepts any casing of a known tier name.
func ParseLicenseTier(raw string) (LicenseTier, error) {
	tier := LicenseTier(strings.ToUpper(strings.TrimSpace(raw)))
	if !tier.Valid() {
		return "", fmt.Errorf("unknown license tier %q", raw)
	}
	return tier, nil
}

// Valid reports whether t is one of the known tiers.
func (t LicenseTier) Valid() bool {
	_, ok := tierLabels[t]
	return ok
}

// Rank returns the position of a beat tier on the license ladder, or 0 for
// tiers that are not part of it (sound kits).
func (t LicenseTier) Rank() int {
	return tierRanks[t]
}

// AtLeast reports whether t is a beat tier at or above other.
func (t LicenseTier) AtLeast(other LicenseTier) bool {
	return t.Rank() > 0 && t.Rank() >= other.Rank()
}

// Label is the human readable tier name used in delivery emails.
func (t LicenseTier) Label() string {
	if label, ok := tierLabels[t]; ok {
		return label
	}
	return string(t)
}

// UnmarshalText lets JSON payloads carry tiers in any casing.
func (t *LicenseTier) UnmarshalText(text []byte) error {
	parsed, err := ParseLicenseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ProductKind distinguishes beats from sound kits in the catalog.
type ProductKind string

const (
	ProductKindBeat     ProductKind = "beat"
	ProductKindSoundKit ProductKind = "soundkit"
)

// Product is a catalog entry with its per-tier list prices and the object
// store references of its deliverable files. Empty refs mean the file was
// never uploaded.
type Product struct {
	ID           string                          `json:"id"`
	Title        string                          `json:"title"`
	Kind         ProductKind                     `json:"kind"`
	CoverRef     string                          `json:"cover_ref,omitempty"`
	StreamingRef string                          `json:"-"`
	LosslessRef  string                          `json:"-"`
	StemsRef     string                          `json:"-"`
	Prices       map[LicenseTier]decimal.Decimal `json:"prices"`
}

// CartLineItem is one product in a buyer's cart at a given license tier.
type CartLineItem struct {
	ProductID     string          `json:"product_id"`
	ProductTitle  string          `json:"product_title"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	LicenseTier   LicenseTier     `json:"license_tier"`
	CoverAssetRef string          `json:"cover_asset_ref,omitempty"`
}
