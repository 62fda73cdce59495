package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/PortNumber53/beat-storefront/backend/internal/checkout"
	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

// CheckoutService prices carts and opens payment sessions.
type CheckoutService interface {
	Quote(ctx context.Context, cart []models.CartLineItem, couponCode, buyerEmail string) (*checkout.Quote, error)
	CreateSession(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type quoteRequest struct {
	Cart       []models.CartLineItem `json:"cart"`
	CouponCode string                `json:"coupon_code"`
	BuyerEmail string                `json:"buyer_email"`
}

// QuoteCart prices a cart for preview. Coupons are checked but never redeemed.
func QuoteCart(svc CheckoutService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req quoteRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		q, err := svc.Quote(r.Context(), req.Cart, req.CouponCode, req.BuyerEmail)
		if err != nil {
			writeCheckoutError(w, "QuoteCart", err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// CreateCheckout opens a hosted payment session and returns where to send
// the buyer.
func CreateCheckout(svc CheckoutService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkout.Request
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := svc.CreateSession(r.Context(), req)
		if err != nil {
			writeCheckoutError(w, "CreateCheckout", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func writeCheckoutError(w http.ResponseWriter, op string, err error) {
	var verr *checkout.ValidationError
	var perr *checkout.PaymentProviderError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Message, "field": verr.Field})
	case errors.As(err, &perr):
		log.Printf("%s: payment provider failure: %v", op, err)
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
	default:
		log.Printf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
