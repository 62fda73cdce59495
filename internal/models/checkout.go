package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a checkout session.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "CREATED"
	SessionPaid      SessionStatus = "PAID"
	SessionFulfilled SessionStatus = "FULFILLED"
)

var sessionOrder = map[SessionStatus]int{
	SessionCreated:   1,
	SessionPaid:      2,
	SessionFulfilled: 3,
}

// IsTerminal reports whether no further transitions are possible.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionFulfilled
}

// CanTransitionTo allows only single forward steps.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	from, ok := sessionOrder[s]
	if !ok {
		return false
	}
	to, ok := sessionOrder[next]
	return ok && to == from+1
}

// CheckoutSession is the server-side record of one attempted purchase, keyed
// by the payment provider's session id. Cart and totals are frozen at
// creation time; fulfillment never re-reads catalog prices.
type CheckoutSession struct {
	ID             string            `json:"id"`
	BuyerEmail     string            `json:"buyer_email"`
	BuyerName      string            `json:"buyer_name"`
	CouponCode     string            `json:"coupon_code,omitempty"`
	Cart           []CartLineItem    `json:"cart"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	BundleDiscount decimal.Decimal   `json:"bundle_discount"`
	CouponDiscount decimal.Decimal   `json:"coupon_discount"`
	TotalCharged   decimal.Decimal   `json:"total_charged"`
	Currency       string            `json:"currency"`
	Status         SessionStatus     `json:"status"`
	Manifest       *DeliveryManifest `json:"manifest,omitempty"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	FulfilledAt    *time.Time        `json:"fulfilled_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// DeliveryFile is one downloadable file in a manifest.
type DeliveryFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// DeliveryItem groups the files unlocked by one purchased line.
type DeliveryItem struct {
	ProductID string         `json:"product_id"`
	BeatTitle string         `json:"beat_title"`
	License   string         `json:"license"`
	Files     []DeliveryFile `json:"files"`
}

// DeliveryManifest is what the buyer receives after payment. It is stored on
// the session so resends reuse the exact same links.
type DeliveryManifest struct {
	SessionID  string         `json:"session_id"`
	BuyerEmail string         `json:"buyer_email"`
	BuyerName  string         `json:"buyer_name"`
	Items      []DeliveryItem `json:"items"`
	CreatedAt  time.Time      `json:"created_at"`
}
