// Package device talks HTTP to the field controller (ESP32) that exposes
// /sensors and /actuator.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	// DefaultTimeout is the fixed per-call deadline.
	DefaultTimeout = 3 * time.Second
	// MaxResponseBytes limita il corpo letto dal device; l'eccedenza è scartata.
	MaxResponseBytes = 1 << 20
)

// ActuatorResponse is the raw answer of /actuator. Status and body are not interpreted.
type ActuatorResponse struct {
	StatusCode int
	Body       string
}

// Client incapsula le chiamate HTTP verso il dispositivo. Il Circuit Breaker
// protegge solo la lettura dei sensori: i comandi raggiungono sempre il
// device. Safe for concurrent use.
type Client struct {
	base    string
	client  *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a client for the device at base. A nil breaker disables
// circuit breaking; timeout <= 0 means DefaultTimeout.
func NewClient(base string, timeout time.Duration, breaker *gobreaker.CircuitBreaker) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:    strings.TrimRight(strings.TrimSpace(base), "/"),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		breaker: breaker,
	}
}

// NewBreaker opens after failures consecutive sensor-read transport failures
// and stays open for openFor.
func NewBreaker(name string, failures int, openFor time.Duration) *gobreaker.CircuitBreaker {
	if failures < 1 {
		failures = 1
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(failures)
		},
	})
}

// BreakerState returns "closed", "half-open" or "open"; "disabled" without a breaker.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// Base is the device base URL.
func (c *Client) Base() string { return c.base }

// ReadSensors fetches the current sensor snapshot. No retry.
func (c *Client) ReadSensors(ctx context.Context) (map[string]any, error) {
	status, body, err := c.get(ctx, "/sensors", true)
	if err != nil {
		return nil, classify("read sensors", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("read sensors: %w: status %d", ErrBadStatus, status)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("read sensors: %w: %v", ErrMalformedResponse, err)
	}
	if out == nil {
		// "null" decodifica senza errori
		return nil, fmt.Errorf("read sensors: %w: not a JSON object", ErrMalformedResponse)
	}
	return out, nil
}

// SendActuatorCommand issues GET /actuator?cmd=..[&value=..]. Any HTTP
// status is returned as is; only transport failures are errors.
func (c *Client) SendActuatorCommand(ctx context.Context, cmd, value string) (ActuatorResponse, error) {
	status, body, err := c.get(ctx, "/actuator?"+ActuatorQuery(cmd, value), false)
	if err != nil {
		return ActuatorResponse{}, classify("send actuator command", err)
	}
	return ActuatorResponse{StatusCode: status, Body: string(body)}, nil
}

// ActuatorQuery encodes cmd and value (omitted when empty) with %20 for spaces.
func ActuatorQuery(cmd, value string) string {
	q := "cmd=" + escape(cmd)
	if value != "" {
		q += "&value=" + escape(value)
	}
	return q
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

type rawResponse struct {
	status int
	body   []byte
}

// get performs one request, through the breaker when guarded. Only transport
// failures count against the breaker.
func (c *Client) get(ctx context.Context, path string, guarded bool) (int, []byte, error) {
	if c.base == "" {
		return 0, nil, fmt.Errorf("device base url not configured")
	}
	call := func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
		if err != nil {
			return nil, err
		}
		return rawResponse{status: resp.StatusCode, body: body}, nil
	}

	var (
		res interface{}
		err error
	)
	if guarded && c.breaker != nil {
		res, err = c.breaker.Execute(call)
	} else {
		res, err = call()
	}
	if err != nil {
		return 0, nil, err
	}
	r := res.(rawResponse)
	return r.status, r.body, nil
}
