package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/PortNumber53/beat-storefront/backend/internal/coupons"
	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

// CouponService is the coupon engine as seen by HTTP.
type CouponService interface {
	Validate(ctx context.Context, code, buyerEmail string) (*models.Coupon, error)
	Redeem(ctx context.Context, code string) (*models.Coupon, error)
	Create(ctx context.Context, in coupons.Input) (*models.Coupon, error)
	Deactivate(ctx context.Context, code string) error
}

type validateCouponRequest struct {
	Code       string `json:"code"`
	BuyerEmail string `json:"buyer_email"`
}

type couponResponse struct {
	Valid         bool                 `json:"valid"`
	PercentageOff *decimal.Decimal     `json:"percentage_off,omitempty"`
	Effect        *models.CouponEffect `json:"effect,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

func couponBody(c *models.Coupon) couponResponse {
	pct := c.Effect.PercentOff()
	effect := c.Effect
	return couponResponse{Valid: true, PercentageOff: &pct, Effect: &effect}
}

// ValidateCoupon is a read-only eligibility check. Rule failures are a 200
// with valid=false and a machine-readable reason.
func ValidateCoupon(svc CouponService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateCouponRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Code) == "" {
			writeError(w, http.StatusBadRequest, "code is required")
			return
		}

		c, err := svc.Validate(r.Context(), req.Code, req.BuyerEmail)
		if err != nil {
			if reason := coupons.Reason(err); reason != "" {
				writeJSON(w, http.StatusOK, couponResponse{Valid: false, Reason: reason})
				return
			}
			log.Printf("ValidateCoupon: %v", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, couponBody(c))
	}
}

type redeemCouponRequest struct {
	Code string `json:"code"`
}

// RedeemCoupon consumes one use of a coupon.
func RedeemCoupon(svc CouponService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req redeemCouponRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Code) == "" {
			writeError(w, http.StatusBadRequest, "code is required")
			return
		}

		c, err := svc.Redeem(r.Context(), req.Code)
		if err != nil {
			writeCouponError(w, "RedeemCoupon", err)
			return
		}
		writeJSON(w, http.StatusOK, couponBody(c))
	}
}

type createCouponRequest struct {
	Code          string           `json:"code"`
	PercentageOff *decimal.Decimal `json:"percentage_off"`
	FixedCents    *int64           `json:"fixed_result_cents"`
	FreeOverride  bool             `json:"free_override"`
	MaxUses       int              `json:"max_uses"`
	BoundEmail    string           `json:"bound_email"`
	ExpiresAt     *time.Time       `json:"expires_at"`
}

func (req createCouponRequest) effect() (models.CouponEffect, error) {
	set := 0
	var effect models.CouponEffect
	if req.PercentageOff != nil {
		set++
		effect = models.PercentageOff(*req.PercentageOff)
	}
	if req.FixedCents != nil {
		set++
		effect = models.FixedResult(*req.FixedCents)
	}
	if req.FreeOverride {
		set++
		effect = models.FreeOverride()
	}
	if set != 1 {
		return effect, errors.New("exactly one of percentage_off, fixed_result_cents or free_override is required")
	}
	return effect, nil
}

// CreateCoupon adds a coupon. Admin only.
func CreateCoupon(svc CouponService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCouponRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		effect, err := req.effect()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		c, err := svc.Create(r.Context(), coupons.Input{
			Code:       req.Code,
			Effect:     effect,
			MaxUses:    req.MaxUses,
			BoundEmail: req.BoundEmail,
			ExpiresAt:  req.ExpiresAt,
		})
		if err != nil {
			writeCouponError(w, "CreateCoupon", err)
			return
		}
		log.Printf("CreateCoupon: created %s (%s)", c.Code, c.Effect.Kind)
		writeJSON(w, http.StatusCreated, c)
	}
}

// DeactivateCoupon soft-disables a coupon. Admin only.
func DeactivateCoupon(svc CouponService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		if err := svc.Deactivate(r.Context(), code); err != nil {
			writeCouponError(w, "DeactivateCoupon", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"code": coupons.NormalizeCode(code), "active": false})
	}
}

func writeCouponError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, coupons.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error(), "reason": coupons.Reason(err)})
	case coupons.Reason(err) != "":
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error(), "reason": coupons.Reason(err)})
	case errors.Is(err, coupons.ErrExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, coupons.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
