package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/PortNumber53/beat-storefront/backend/internal/checkout"
	"github.com/PortNumber53/beat-storefront/backend/internal/coupons"
	"github.com/PortNumber53/beat-storefront/backend/internal/models"
	"github.com/PortNumber53/beat-storefront/backend/internal/pricing"
	"github.com/PortNumber53/beat-storefront/backend/internal/store"
)

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

type mockCheckout struct {
	lastReq  checkout.Request
	lastCode string
	quote    *checkout.Quote
	result   *checkout.Result
	err      error
}

func (m *mockCheckout) Quote(_ context.Context, _ []models.CartLineItem, code, _ string) (*checkout.Quote, error) {
	m.lastCode = code
	return m.quote, m.err
}

func (m *mockCheckout) CreateSession(_ context.Context, req checkout.Request) (*checkout.Result, error) {
	m.lastReq = req
	return m.result, m.err
}

type mockCoupons struct {
	coupon     *models.Coupon
	err        error
	lastInput  coupons.Input
	deactivate string
}

func (m *mockCoupons) Validate(context.Context, string, string) (*models.Coupon, error) {
	return m.coupon, m.err
}

func (m *mockCoupons) Redeem(context.Context, string) (*models.Coupon, error) {
	return m.coupon, m.err
}

func (m *mockCoupons) Create(_ context.Context, in coupons.Input) (*models.Coupon, error) {
	m.lastInput = in
	if m.err != nil {
		return nil, m.err
	}
	return &models.Coupon{Code: coupons.NormalizeCode(in.Code), Effect: in.Effect, Active: true}, nil
}

func (m *mockCoupons) Deactivate(_ context.Context, code string) error {
	m.deactivate = code
	return m.err
}

type mockSessions map[string]*models.CheckoutSession

func (m mockSessions) GetCheckoutSession(_ context.Context, id string) (*models.CheckoutSession, error) {
	if s, ok := m[id]; ok {
		return s, nil
	}
	return nil, store.ErrSessionNotFound
}

type mockQueue struct {
	enqueued []*models.Job
}

func (m *mockQueue) Enqueue(_ context.Context, job *models.Job) error {
	job.ID = int64(len(m.enqueued) + 1)
	job.Status = models.JobStatusPending
	m.enqueued = append(m.enqueued, job)
	return nil
}

func (m *mockQueue) GetByID(_ context.Context, id int64) (*models.Job, error) {
	for _, j := range m.enqueued {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, store.ErrJobNotFound
}

func (m *mockQueue) GetStats(context.Context) (*models.JobStats, error) {
	return &models.JobStats{Pending: len(m.enqueued), Total: len(m.enqueued)}, nil
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return out
}

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	Health(mockPinger{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	Health(mockPinger{err: errors.New("down")}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rr.Code)
	}
}

func TestQuoteCart(t *testing.T) {
	svc := &mockCheckout{quote: &checkout.Quote{Totals: pricing.Totals{FinalTotal: decimal.NewFromInt(50)}}}

	rr := post(QuoteCart(svc), "/api/cart/quote", `{"cart":[{"product_id":"a","license_tier":"BASIC","unit_price":"10"}],"coupon_code":"half"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if svc.lastCode != "half" {
		t.Fatalf("expected coupon code to be passed through, got %q", svc.lastCode)
	}
	totals := decodeBody(t, rr)["totals"].(map[string]any)
	if totals["final_total"] != "50" {
		t.Fatalf("unexpected final total %v", totals["final_total"])
	}
}

func TestQuoteCartRejectsUnknownFields(t *testing.T) {
	rr := post(QuoteCart(&mockCheckout{}), "/api/cart/quote", `{"cart":[],"bogus":1}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestCreateCheckoutErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: &checkout.ValidationError{Field: "cart", Message: "cart is empty"}, want: http.StatusBadRequest},
		{name: "provider", err: &checkout.PaymentProviderError{Err: errors.New("timeout")}, want: http.StatusBadGateway},
		{name: "internal", err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := post(CreateCheckout(&mockCheckout{err: tc.err}), "/api/checkout", `{"cart":[],"buyer_email":"b@example.com"}`)
			if rr.Code != tc.want {
				t.Fatalf("expected %d got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestCreateCheckoutSuccess(t *testing.T) {
	svc := &mockCheckout{result: &checkout.Result{ProviderSessionID: "cs_1", RedirectURL: "https://pay.example.com/cs_1"}}

	rr := post(CreateCheckout(svc), "/api/checkout", `{"cart":[{"product_id":"a","license_tier":"BASIC","unit_price":10}],"buyer_email":"b@example.com","buyer_name":"B","final_total":10}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if svc.lastReq.FinalTotal == nil || !svc.lastReq.FinalTotal.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("final_total not decoded: %v", svc.lastReq.FinalTotal)
	}
	if got := decodeBody(t, rr)["redirect_url"]; got != "https://pay.example.com/cs_1" {
		t.Fatalf("unexpected redirect %v", got)
	}
}

func TestValidateCoupon(t *testing.T) {
	rr := post(ValidateCoupon(&mockCoupons{err: coupons.ErrExpired}), "/api/coupons/validate", `{"code":"OLD"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["valid"] != false || body["reason"] != "expired" {
		t.Fatalf("unexpected body %v", body)
	}

	svc := &mockCoupons{coupon: &models.Coupon{Code: "HALF", Effect: models.PercentageOff(decimal.NewFromInt(50))}}
	body = decodeBody(t, post(ValidateCoupon(svc), "/api/coupons/validate", `{"code":"half"}`))
	if body["valid"] != true || body["percentage_off"] != "50" {
		t.Fatalf("unexpected body %v", body)
	}

	rr = post(ValidateCoupon(svc), "/api/coupons/validate", `{"code":"  "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank code got %d", rr.Code)
	}
}

func TestRedeemCouponExhausted(t *testing.T) {
	rr := post(RedeemCoupon(&mockCoupons{err: coupons.ErrUsageExceeded}), "/api/coupons/redeem", `{"code":"ONCE"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rr.Code)
	}
	if decodeBody(t, rr)["reason"] != "usage_exceeded" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	rr = post(RedeemCoupon(&mockCoupons{err: coupons.ErrNotFound}), "/api/coupons/redeem", `{"code":"NOPE"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestCreateCouponEffects(t *testing.T) {
	svc := &mockCoupons{}

	rr := post(CreateCoupon(svc), "/api/admin/coupons", `{"code":"spring","percentage_off":"20","max_uses":100}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d (%s)", rr.Code, rr.Body.String())
	}
	if svc.lastInput.Effect.Kind != models.EffectPercentage || svc.lastInput.MaxUses != 100 {
		t.Fatalf("unexpected input %+v", svc.lastInput)
	}

	rr = post(CreateCoupon(svc), "/api/admin/coupons", `{"code":"x","percentage_off":"20","free_override":true}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for two effects got %d", rr.Code)
	}

	rr = post(CreateCoupon(&mockCoupons{err: coupons.ErrExists}), "/api/admin/coupons", `{"code":"dup","free_override":true}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rr.Code)
	}
}

func TestDeactivateCoupon(t *testing.T) {
	svc := &mockCoupons{}
	r := chi.NewRouter()
	r.Post("/api/admin/coupons/{code}/deactivate", DeactivateCoupon(svc))

	rr := post(r, "/api/admin/coupons/spring/deactivate", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if svc.deactivate != "spring" {
		t.Fatalf("unexpected code %q", svc.deactivate)
	}
}

func TestGetOrder(t *testing.T) {
	sessions := mockSessions{
		"cs_paid": {ID: "cs_paid", Status: models.SessionPaid, Currency: "usd"},
		"cs_done": {ID: "cs_done", Status: models.SessionFulfilled, Manifest: &models.DeliveryManifest{Items: []models.DeliveryItem{{ProductID: "a"}}}},
	}
	r := chi.NewRouter()
	r.Get("/api/orders/{sessionID}", GetOrder(sessions))

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	if rr := get("/api/orders/missing"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
	body := decodeBody(t, get("/api/orders/cs_paid"))
	if body["status"] != "PAID" || body["items"] != nil {
		t.Fatalf("unexpected body %v", body)
	}
	body = decodeBody(t, get("/api/orders/cs_done"))
	if items, ok := body["items"].([]any); !ok || len(items) != 1 {
		t.Fatalf("expected one item, got %v", body["items"])
	}
}

func TestResendDelivery(t *testing.T) {
	sessions := mockSessions{
		"cs_paid": {ID: "cs_paid", Status: models.SessionPaid},
		"cs_done": {ID: "cs_done", Status: models.SessionFulfilled},
	}
	queue := &mockQueue{}
	r := chi.NewRouter()
	NewJobHandler(queue, sessions).RegisterRoutes(r)

	if rr := post(r, "/orders/cs_paid/resend", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rr.Code)
	}
	rr := post(r, "/orders/cs_done/resend", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rr.Code)
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0].PayloadString("session_id") != "cs_done" {
		t.Fatalf("unexpected queue contents %+v", queue.enqueued)
	}

	job := httptest.NewRecorder()
	r.ServeHTTP(job, httptest.NewRequest(http.MethodGet, "/jobs/1", nil))
	if job.Code != http.StatusOK {
		t.Fatalf("unexpected job status: %d", job.Code)
	}
	bad := httptest.NewRecorder()
	r.ServeHTTP(bad, httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", bad.Code)
	}
}
