// Package checkout validates carts against the catalog, prices them and
// opens hosted payment sessions.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/beat-storefront/backend/internal/assets"
	"github.com/PortNumber53/beat-storefront/backend/internal/coupons"
	"github.com/PortNumber53/beat-storefront/backend/internal/models"
	"github.com/PortNumber53/beat-storefront/backend/internal/pricing"
	"github.com/PortNumber53/beat-storefront/backend/internal/store"
	"github.com/PortNumber53/beat-storefront/backend/internal/stripe"
)

// MaxCartItems bounds a single checkout.
const MaxCartItems = 50

// Buyer fields travel in provider metadata, whose values are capped at
// metadataValueLimit bytes.
const (
	maxBuyerEmailBytes = 254
	maxBuyerNameBytes  = 200
)

// ValidationError is a request problem the buyer can fix.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PaymentProviderError wraps a failure to create the hosted session.
type PaymentProviderError struct {
	Err error
}

func (e *PaymentProviderError) Error() string {
	return "payment provider: " + e.Err.Error()
}

func (e *PaymentProviderError) Unwrap() error { return e.Err }

// Catalog resolves products.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
}

// SessionStore records created sessions.
type SessionStore interface {
	CreateCheckoutSession(ctx context.Context, sess *models.CheckoutSession) error
}

// CouponValidator checks coupon codes without consuming them.
type CouponValidator interface {
	Validate(ctx context.Context, code, buyerEmail string) (*models.Coupon, error)
}

// PaymentProvider opens hosted checkout sessions.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, params stripe.CheckoutSessionParams) (sessionID, sessionURL string, err error)
}

// Config holds the checkout redirect targets and currency.
type Config struct {
	Currency   string
	SuccessURL string
	CancelURL  string
}

// Initiator creates checkout sessions.
type Initiator struct {
	catalog  Catalog
	sessions SessionStore
	coupons  CouponValidator
	provider PaymentProvider
	urls     *assets.URLBuilder
	cfg      Config
}

// NewInitiator wires an Initiator.
func NewInitiator(catalog Catalog, sessions SessionStore, validator CouponValidator, provider PaymentProvider, urls *assets.URLBuilder, cfg Config) *Initiator {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Initiator{
		catalog:  catalog,
		sessions: sessions,
		coupons:  validator,
		provider: provider,
		urls:     urls,
		cfg:      cfg,
	}
}

// Quote is a priced, catalog-checked cart.
type Quote struct {
	Cart   []models.CartLineItem `json:"cart"`
	Coupon *models.Coupon        `json:"coupon,omitempty"`
	Totals pricing.Totals        `json:"totals"`
}

// Request is a checkout attempt from the storefront. FinalTotal is the total
// the buyer was shown; when set it must match the server's computation.
type Request struct {
	Cart       []models.CartLineItem `json:"cart"`
	BuyerEmail string                `json:"buyer_email"`
	BuyerName  string                `json:"buyer_name"`
	CouponCode string                `json:"coupon_code"`
	FinalTotal *decimal.Decimal      `json:"final_total"`
}

// Result is returned to the storefront so it can redirect the buyer.
type Result struct {
	ProviderSessionID string         `json:"provider_session_id"`
	RedirectURL       string         `json:"redirect_url"`
	Totals            pricing.Totals `json:"totals"`
}

// Quote revalidates cart against the catalog and prices it, applying the
// coupon when one is given.
func (i *Initiator) Quote(ctx context.Context, cart []models.CartLineItem, couponCode, buyerEmail string) (*Quote, error) {
	resolved, err := i.resolveCart(ctx, cart)
	if err != nil {
		return nil, err
	}

	q := &Quote{Cart: resolved}
	var effect *models.CouponEffect
	if strings.TrimSpace(couponCode) != "" {
		c, err := i.coupons.Validate(ctx, couponCode, buyerEmail)
		if err != nil {
			if coupons.Reason(err) != "" {
				return nil, &ValidationError{Field: "coupon_code", Message: err.Error(), Err: err}
			}
			return nil, err
		}
		q.Coupon = c
		effect = &c.Effect
	}
	q.Totals = pricing.ComputeTotals(resolved, effect)
	return q, nil
}

// CreateSession prices the cart, opens a hosted payment session and records
// it locally in the CREATED state.
func (i *Initiator) CreateSession(ctx context.Context, req Request) (*Result, error) {
	email := strings.TrimSpace(req.BuyerEmail)
	if email == "" {
		return nil, &ValidationError{Field: "buyer_email", Message: "email is required"}
	}
	if len(email) > maxBuyerEmailBytes {
		return nil, &ValidationError{Field: "buyer_email", Message: "email is too long"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &ValidationError{Field: "buyer_email", Message: "email is invalid", Err: err}
	}
	name := strings.TrimSpace(req.BuyerName)
	if len(name) > maxBuyerNameBytes {
		return nil, &ValidationError{Field: "buyer_name", Message: fmt.Sprintf("name must be at most %d bytes", maxBuyerNameBytes)}
	}

	q, err := i.Quote(ctx, req.Cart, req.CouponCode, email)
	if err != nil {
		return nil, err
	}
	if req.FinalTotal != nil && !req.FinalTotal.Equal(q.Totals.FinalTotal) {
		return nil, &ValidationError{
			Field:   "final_total",
			Message: fmt.Sprintf("total changed to %s, please review your cart", q.Totals.FinalTotal.StringFixed(2)),
		}
	}

	couponCode := ""
	if q.Coupon != nil {
		couponCode = q.Coupon.Code
	}
	metadata, err := EncodeMetadata(q.Cart, email, name, couponCode)
	if err != nil {
		if errors.Is(err, ErrCartTooLarge) {
			return nil, &ValidationError{Field: "cart", Message: err.Error(), Err: err}
		}
		return nil, err
	}

	shares := pricing.Allocate(q.Cart, q.Totals.FinalTotal)
	lineItems := make([]stripe.LineItem, 0, len(q.Cart))
	for idx, item := range q.Cart {
		lineItems = append(lineItems, stripe.LineItem{
			Name:        fmt.Sprintf("%s (%s)", item.ProductTitle, item.LicenseTier.Label()),
			AmountMinor: shares[idx],
			ImageURL:    i.urls.PublicURL(item.CoverAssetRef),
		})
	}

	sessionID, redirectURL, err := i.provider.CreateCheckoutSession(ctx, stripe.CheckoutSessionParams{
		CustomerEmail: email,
		Currency:      i.cfg.Currency,
		SuccessURL:    i.cfg.SuccessURL,
		CancelURL:     i.cfg.CancelURL,
		LineItems:     lineItems,
		Metadata:      metadata,
	})
	if err != nil {
		return nil, &PaymentProviderError{Err: err}
	}

	sess := &models.CheckoutSession{
		ID:             sessionID,
		BuyerEmail:     email,
		BuyerName:      name,
		CouponCode:     couponCode,
		Cart:           q.Cart,
		Subtotal:       q.Totals.Subtotal,
		BundleDiscount: q.Totals.BundleDiscount,
		CouponDiscount: q.Totals.CouponDiscount,
		TotalCharged:   q.Totals.FinalTotal,
		Currency:       i.cfg.Currency,
		Status:         models.SessionCreated,
	}
	if err := i.sessions.CreateCheckoutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("checkout: record session %s: %w", sessionID, err)
	}

	log.Printf("[checkout] session %s created for %s: %d items, total %s %s",
		sessionID, email, len(q.Cart), q.Totals.FinalTotal.StringFixed(2), i.cfg.Currency)

	return &Result{
		ProviderSessionID: sessionID,
		RedirectURL:       redirectURL,
		Totals:            q.Totals,
	}, nil
}

// resolveCart checks every line against the catalog and returns a copy with
// catalog titles and cover refs. Client prices must equal list prices.
func (i *Initiator) resolveCart(ctx context.Context, cart []models.CartLineItem) ([]models.CartLineItem, error) {
	if len(cart) == 0 {
		return nil, &ValidationError{Field: "cart", Message: "cart is empty"}
	}
	if len(cart) > MaxCartItems {
		return nil, &ValidationError{Field: "cart", Message: fmt.Sprintf("cart has more than %d items", MaxCartItems)}
	}

	seen := make(map[string]bool, len(cart))
	resolved := make([]models.CartLineItem, 0, len(cart))
	for _, item := range cart {
		if item.ProductID == "" {
			return nil, &ValidationError{Field: "cart", Message: "line item without product id"}
		}
		if seen[item.ProductID] {
			return nil, &ValidationError{Field: "cart", Message: fmt.Sprintf("product %s appears more than once", item.ProductID)}
		}
		seen[item.ProductID] = true

		if !item.LicenseTier.Valid() {
			return nil, &ValidationError{Field: "cart", Message: fmt.Sprintf("unknown license tier %q", item.LicenseTier)}
		}
		if item.UnitPrice.IsNegative() {
			return nil, &ValidationError{Field: "cart", Message: fmt.Sprintf("negative price for %s", item.ProductID)}
		}

		product, err := i.catalog.GetProduct(ctx, item.ProductID)
		if errors.Is(err, store.ErrProductNotFound) {
			return nil, &ValidationError{Field: "cart", Message: fmt.Sprintf("product %s not found", item.ProductID), Err: err}
		}
		if err != nil {
			return nil, fmt.Errorf("checkout: load product %s: %w", item.ProductID, err)
		}

		listPrice, ok := product.Prices[item.LicenseTier]
		if !ok {
			return nil, &ValidationError{Field: "cart", Message: fmt.Sprintf("%s is not offered for %s", item.LicenseTier.Label(), product.Title)}
		}
		if !listPrice.Equal(item.UnitPrice) {
			return nil, &ValidationError{Field: "cart", Message: fmt.Sprintf("price of %s changed to %s", product.Title, listPrice.StringFixed(2))}
		}

		resolved = append(resolved, models.CartLineItem{
			ProductID:     product.ID,
			ProductTitle:  product.Title,
			UnitPrice:     listPrice,
			LicenseTier:   item.LicenseTier,
			CoverAssetRef: product.CoverRef,
		})
	}
	return resolved, nil
}
