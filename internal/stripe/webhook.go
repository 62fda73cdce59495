package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader carries the webhook signature.
	SignatureHeader = "Stripe-Signature"
	// DefaultTolerance is the maximum accepted age of a signed payload.
	DefaultTolerance = 5 * time.Minute

	EventCheckoutSessionCompleted             = "checkout.session.completed"
	EventCheckoutSessionAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

var (
	ErrMissingSecret          = errors.New("webhook signing secret not configured")
	ErrMissingSignature       = errors.New("missing webhook signature")
	ErrInvalidSignatureHeader = errors.New("malformed webhook signature header")
	ErrNoValidSignature       = errors.New("no valid webhook signature")
	ErrTimestampOutOfRange    = errors.New("webhook timestamp outside tolerance")
)

// Event is a webhook event envelope.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSessionObject is the subset of a checkout session the storefront
// reads from events and from the API.
type CheckoutSessionObject struct {
	ID              string `json:"id"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

// Paid reports whether the session's payment has settled.
func (o *CheckoutSessionObject) Paid() bool {
	return o.PaymentStatus == "paid" || o.PaymentStatus == "no_payment_required"
}

// CheckoutSession decodes the event object as a checkout session.
func (e *Event) CheckoutSession() (*CheckoutSessionObject, error) {
	var obj CheckoutSessionObject
	if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
		return nil, fmt.Errorf("decode checkout session from event %s: %w", e.ID, err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("event %s: checkout session without id", e.ID)
	}
	return &obj, nil
}

// ConstructEvent verifies the signature header against payload and decodes
// the event. It fails closed: an empty secret, a missing header, a stale
// timestamp or a mismatched signature all return an error.
func ConstructEvent(payload []byte, header, secret string, tolerance time.Duration, now time.Time) (*Event, error) {
	if err := VerifySignature(payload, header, secret, tolerance, now); err != nil {
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("parse webhook event: %w", err)
	}
	return &event, nil
}

// VerifySignature checks a "t=<unix>,v1=<hex>" header. Any v1 entry matching
// HMAC-SHA256(secret, "<t>.<payload>") is accepted.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return ErrMissingSecret
	}
	if header == "" {
		return ErrMissingSignature
	}

	var (
		timestamp  int64
		haveTime   bool
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrInvalidSignatureHeader
			}
			timestamp, haveTime = ts, true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if !haveTime || len(signatures) == 0 {
		return ErrInvalidSignatureHeader
	}

	signedAt := time.Unix(timestamp, 0)
	if tolerance > 0 {
		age := now.Sub(signedAt)
		if age > tolerance || age < -tolerance {
			return ErrTimestampOutOfRange
		}
	}

	expected := computeSignature(signedAt, payload, secret)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrNoValidSignature
}

// SignatureHeaderValue builds a header for payload signed at t.
func SignatureHeaderValue(t time.Time, payload []byte, secret string) string {
	return fmt.Sprintf("t=%d,v1=%s", t.Unix(), hex.EncodeToString(computeSignature(t, payload, secret)))
}

func computeSignature(t time.Time, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(t.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
