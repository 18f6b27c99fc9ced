// Package gateway adapts the payment gateway's order API to payment.Gateway.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("payment gateway unavailable")

// APIError is an error response from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway: status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: status %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
	// Transport is wrapped with otelhttp. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

var _ payment.Gateway = (*Client)(nil)

// Client creates orders on the live gateway.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[payment.GatewayTransaction]
}

// NewClient returns a Client for cfg.
func NewClient(cfg ClientConfig) *Client {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[payment.GatewayTransaction](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Rejected requests mean the gateway is up.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
	})

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		http: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   timeout,
		},
		breaker: breaker,
	}
}

// KeyID returns the public key id clients use to open the gateway UI.
func (c *Client) KeyID() string {
	return c.keyID
}

// CreateOrder opens a gateway order for req.
func (c *Client) CreateOrder(ctx context.Context, req payment.GatewayOrderRequest) (payment.GatewayTransaction, error) {
	txn, err := c.breaker.Execute(func() (payment.GatewayTransaction, error) {
		return c.createOrder(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return payment.GatewayTransaction{}, errors.Wrap(ErrUnavailable, err.Error())
	}
	return txn, err
}

func (c *Client) createOrder(ctx context.Context, req payment.GatewayOrderRequest) (payment.GatewayTransaction, error) {
	body := encodeOrderRequest(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return payment.GatewayTransaction{}, errors.Wrap(err, "build request")
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return payment.GatewayTransaction{}, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return payment.GatewayTransaction{}, errors.Wrap(err, "read response")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return payment.GatewayTransaction{}, decodeAPIError(resp.StatusCode, data)
	}

	txn, err := decodeOrder(data)
	if err != nil {
		return payment.GatewayTransaction{}, errors.Wrap(err, "decode order")
	}
	txn.KeyID = c.keyID
	return txn, nil
}

func encodeOrderRequest(req payment.GatewayOrderRequest) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(req.AmountMinorUnits)
	e.FieldStart("currency")
	e.Str(req.Currency)
	e.FieldStart("receipt")
	e.Str(req.Receipt)
	if len(req.Notes) > 0 {
		e.FieldStart("notes")
		e.ObjStart()
		for k, v := range req.Notes {
			e.FieldStart(k)
			e.Str(v)
		}
		e.ObjEnd()
	}
	e.ObjEnd()
	return e.Bytes()
}

func decodeOrder(data []byte) (payment.GatewayTransaction, error) {
	var txn payment.GatewayTransaction
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			txn.GatewayOrderID, err = d.Str()
		case "amount":
			txn.AmountMinorUnits, err = d.Int64()
		case "currency":
			txn.Currency, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return payment.GatewayTransaction{}, err
	}
	if txn.GatewayOrderID == "" {
		return payment.GatewayTransaction{}, errors.New("missing order id")
	}
	return txn, nil
}

func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	// Error bodies are best effort; the status code alone is enough.
	_ = jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "error" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "code":
				apiErr.Code, err = d.Str()
			case "description":
				apiErr.Description, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		})
	})
	return apiErr
}
