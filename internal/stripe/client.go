package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultBaseURL is the Stripe REST API root.
const DefaultBaseURL = "https://api.stripe.com/v1"

// APIError is a non-2xx response from Stripe.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("stripe API error (%d): %s", e.StatusCode, e.Message)
}

// Client calls the Stripe REST API directly with form-encoded requests. Calls
// go through a circuit breaker that opens after repeated transport or 5xx
// failures; 4xx responses do not count against it.
type Client struct {
	secretKey  string
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker[map[string]interface{}]
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root, such as a test server.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Stripe API client.
func NewClient(secretKey string, opts ...Option) *Client {
	c := &Client{
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[map[string]interface{}](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[stripe] circuit %s: %s -> %s", name, from, to)
		},
	})
	return c
}

// LineItem is one priced line of a hosted checkout page.
type LineItem struct {
	Name        string
	Description string
	AmountMinor int64
	ImageURL    string
}

// CheckoutSessionParams describes a one-time payment checkout session.
type CheckoutSessionParams struct {
	CustomerEmail string
	Currency      string
	SuccessURL    string
	CancelURL     string
	LineItems     []LineItem
	Metadata      map[string]string
}

// CreateCheckoutSession creates a hosted Checkout session in payment mode and
// returns its id and redirect URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (sessionID, sessionURL string, err error) {
	if len(params.LineItems) == 0 {
		return "", "", errors.New("create checkout session: no line items")
	}

	data := url.Values{}
	data.Set("mode", "payment")
	data.Set("customer_email", params.CustomerEmail)
	data.Set("success_url", params.SuccessURL)
	data.Set("cancel_url", params.CancelURL)

	for i, item := range params.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", i)
		data.Set(prefix+"[quantity]", "1")
		data.Set(prefix+"[price_data][currency]", params.Currency)
		data.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.AmountMinor, 10))
		data.Set(prefix+"[price_data][product_data][name]", item.Name)
		if item.Description != "" {
			data.Set(prefix+"[price_data][product_data][description]", item.Description)
		}
		if item.ImageURL != "" {
			data.Set(prefix+"[price_data][product_data][images][0]", item.ImageURL)
		}
	}

	keys := make([]string, 0, len(params.Metadata))
	for k := range params.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data.Set("metadata["+k+"]", params.Metadata[k])
		data.Set("payment_intent_data[metadata]["+k+"]", params.Metadata[k])
	}

	resp, err := c.post(ctx, "/checkout/sessions", data)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}

	sessionID, _ = resp["id"].(string)
	sessionURL, _ = resp["url"].(string)
	if sessionID == "" {
		return "", "", errors.New("create checkout session: missing session ID in response")
	}
	return sessionID, sessionURL, nil
}

// RetrieveCheckoutSession fetches a session object, used by the CLI to
// reconcile orders whose webhook never arrived.
func (c *Client) RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSessionObject, error) {
	resp, err := c.get(ctx, "/checkout/sessions/"+url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, err)
	}
	var obj CheckoutSessionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode checkout session %s: %w", id, err)
	}
	return &obj, nil
}

func (c *Client) post(ctx context.Context, path string, data url.Values) (map[string]interface{}, error) {
	return c.breaker.Execute(func() (map[string]interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(data.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return c.doRequest(req)
	})
}

func (c *Client) get(ctx context.Context, path string) (map[string]interface{}, error) {
	return c.breaker.Execute(func() (map[string]interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		return c.doRequest(req)
	})
}

func (c *Client) doRequest(req *http.Request) (map[string]interface{}, error) {
	req.SetBasicAuth(c.secretKey, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read stripe response: %w", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return nil, fmt.Errorf("parse stripe response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: "unknown error"}
		if errObj, ok := result["error"].(map[string]interface{}); ok {
			if m, ok := errObj["message"].(string); ok {
				apiErr.Message = m
			}
			apiErr.Type, _ = errObj["type"].(string)
			apiErr.Code, _ = errObj["code"].(string)
		}
		return nil, apiErr
	}
	return result, nil
}
