package coupons

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
	"github.com/PortNumber53/beat-storefront/backend/internal/store"
)

type memoryStore struct {
	mu      sync.Mutex
	coupons map[string]*models.Coupon
	now     func() time.Time
	failGet error
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{coupons: make(map[string]*models.Coupon), now: now}
}

func (m *memoryStore) GetCoupon(_ context.Context, code string) (*models.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	c, ok := m.coupons[code]
	if !ok {
		return nil, store.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memoryStore) CreateCoupon(_ context.Context, c *models.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.coupons[c.Code]; ok {
		return store.ErrCouponExists
	}
	cp := *c
	m.coupons[c.Code] = &cp
	return nil
}

func (m *memoryStore) RedeemCoupon(_ context.Context, code string) (*models.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok || c.ExpiredAt(m.now()) || c.Exhausted() {
		return nil, store.ErrCouponNotRedeemable
	}
	c.UsesSoFar++
	cp := *c
	return &cp, nil
}

func (m *memoryStore) DeactivateCoupon(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return store.ErrCouponNotFound
	}
	c.Active = false
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *memoryStore, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ms := newMemoryStore(clock)
	e := NewEngine(ms)
	e.now = clock
	return e, ms, now
}

func TestValidateErrorOrder(t *testing.T) {
	e, ms, now := newTestEngine(t)
	past := now.Add(-time.Hour)
	bound := "vip@example.com"

	ms.coupons["EXPIRED"] = &models.Coupon{Code: "EXPIRED", Effect: models.FreeOverride(), Active: true, ExpiresAt: &past, MaxUses: 1, UsesSoFar: 1, BoundEmail: &bound}
	ms.coupons["USEDUP"] = &models.Coupon{Code: "USEDUP", Effect: models.FreeOverride(), Active: true, MaxUses: 2, UsesSoFar: 2, BoundEmail: &bound}
	ms.coupons["BOUND"] = &models.Coupon{Code: "BOUND", Effect: models.FreeOverride(), Active: true, BoundEmail: &bound}
	ms.coupons["OFF"] = &models.Coupon{Code: "OFF", Effect: models.FreeOverride(), Active: false}

	_, err := e.Validate(context.Background(), "missing", "a@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Validate(context.Background(), "expired", "other@example.com")
	assert.ErrorIs(t, err, ErrExpired)

	_, err = e.Validate(context.Background(), "usedup", "other@example.com")
	assert.ErrorIs(t, err, ErrUsageExceeded)

	_, err = e.Validate(context.Background(), "bound", "other@example.com")
	assert.ErrorIs(t, err, ErrEmailMismatch)

	_, err = e.Validate(context.Background(), "off", "a@example.com")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestValidateNormalisesCodeAndEmail(t *testing.T) {
	e, ms, _ := newTestEngine(t)
	bound := "VIP@Example.com"
	ms.coupons["SPRING25"] = &models.Coupon{
		Code:       "SPRING25",
		Effect:     models.PercentageOff(decimal.NewFromInt(25)),
		Active:     true,
		BoundEmail: &bound,
	}

	c, err := e.Validate(context.Background(), "  spring25 ", "vip@example.COM")
	require.NoError(t, err)
	assert.True(t, c.Effect.PercentOff().Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 0, ms.coupons["SPRING25"].UsesSoFar, "validation must not consume a use")
}

func TestRedeemClassifiesFailures(t *testing.T) {
	e, ms, now := newTestEngine(t)
	past := now.Add(-time.Minute)
	ms.coupons["ONCE"] = &models.Coupon{Code: "ONCE", Effect: models.FixedResult(1), Active: true, MaxUses: 1}
	ms.coupons["OLD"] = &models.Coupon{Code: "OLD", Effect: models.FixedResult(1), Active: true, ExpiresAt: &past}

	c, err := e.Redeem(context.Background(), "once")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsesSoFar)

	_, err = e.Redeem(context.Background(), "ONCE")
	assert.ErrorIs(t, err, ErrUsageExceeded)

	_, err = e.Redeem(context.Background(), "OLD")
	assert.ErrorIs(t, err, ErrExpired)

	_, err = e.Redeem(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedeemConcurrentSingleUse(t *testing.T) {
	e, ms, _ := newTestEngine(t)
	ms.coupons["LAST"] = &models.Coupon{Code: "LAST", Effect: models.FreeOverride(), Active: true, MaxUses: 1}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Redeem(context.Background(), "LAST"); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, ms.coupons["LAST"].UsesSoFar)
}

func TestRedeemWrapsStoreErrors(t *testing.T) {
	e, ms, _ := newTestEngine(t)
	ms.failGet = errors.New("connection reset")

	_, err := e.Validate(context.Background(), "ANY", "a@example.com")
	require.Error(t, err)
	assert.Empty(t, Reason(err))
}

func TestCreateValidatesInput(t *testing.T) {
	e, ms, now := newTestEngine(t)

	_, err := e.Create(context.Background(), Input{Code: " ", Effect: models.FreeOverride()})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = e.Create(context.Background(), Input{Code: "BAD", Effect: models.PercentageOff(decimal.NewFromInt(150))})
	assert.ErrorIs(t, err, ErrInvalid)

	past := now.Add(-time.Hour)
	_, err = e.Create(context.Background(), Input{Code: "LATE", Effect: models.FreeOverride(), ExpiresAt: &past})
	assert.ErrorIs(t, err, ErrInvalid)

	c, err := e.Create(context.Background(), Input{Code: "test1c", Effect: models.FixedResult(1), MaxUses: 5, BoundEmail: " Dev@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, "TEST1C", c.Code)
	require.NotNil(t, c.BoundEmail)
	assert.Equal(t, "dev@example.com", *c.BoundEmail)
	assert.Contains(t, ms.coupons, "TEST1C")

	_, err = e.Create(context.Background(), Input{Code: "TEST1C", Effect: models.FreeOverride()})
	assert.ErrorIs(t, err, ErrExists)
}

func TestDeactivate(t *testing.T) {
	e, ms, _ := newTestEngine(t)
	ms.coupons["GONE"] = &models.Coupon{Code: "GONE", Effect: models.FreeOverride(), Active: true}

	require.NoError(t, e.Deactivate(context.Background(), "gone"))
	_, err := e.Validate(context.Background(), "GONE", "a@example.com")
	assert.ErrorIs(t, err, ErrExpired)

	assert.ErrorIs(t, e.Deactivate(context.Background(), "missing"), ErrNotFound)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "not_found", Reason(ErrNotFound))
	assert.Equal(t, "expired", Reason(ErrExpired))
	assert.Equal(t, "usage_exceeded", Reason(ErrUsageExceeded))
	assert.Equal(t, "email_mismatch", Reason(ErrEmailMismatch))
}
