// Package stk initiates STK push (Lipa Na M-Pesa Online) transactions:
// request construction, validation and asynchronous submission.
package stk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"

	"mpesa-push/internal/auth"
	"mpesa-push/internal/config"
	"mpesa-push/internal/timestamp"
)

const (
	pushEndpoint = "/mpesa/stkpush/v1/processrequest"

	defaultTimeoutMs        = 30_000
	defaultConnectTimeoutMs = 10_000
	defaultParallelism      = 100
)

var (
	pushSuccessCounter          = metrics.GetOrCreateCounter(`stk_push_total{result="success"}`)
	pushValidationFailedCounter = metrics.GetOrCreateCounter(`stk_push_total{result="validation_failed"}`)
	pushAuthFailedCounter       = metrics.GetOrCreateCounter(`stk_push_total{result="auth_failed"}`)
	pushTransportFailedCounter  = metrics.GetOrCreateCounter(`stk_push_total{result="transport_failed"}`)
	pushAPIErrorCounter         = metrics.GetOrCreateCounter(`stk_push_total{result="api_error"}`)
	pushParseErrorCounter       = metrics.GetOrCreateCounter(`stk_push_total{result="parse_error"}`)

	pushDurationHistogram = metrics.GetOrCreateHistogram(`stk_push_duration_milliseconds`)
)

// PushResponse is the provider's immediate answer to a push submission.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type errorResponse struct {
	ErrorMessage string `json:"errorMessage"`
	ErrorCode    string `json:"errorCode"`
}

// Result is the outcome of one submission. Exactly one of Response and
// Err is set.
type Result struct {
	Response *PushResponse
	Err      error
}

// Client submits STK push requests using tokens from a shared Auth
// instance. The Auth must outlive the client.
//
// The request timestamp is captured once at construction and reused for
// every submission this client makes; long-lived applications that care
// about fresh timestamps should create a new client periodically.
type Client struct {
	auth      *auth.Auth
	client    *http.Client
	logger    *slog.Logger
	timestamp string
	sem       chan struct{}

	successCount atomic.Uint64
	failureCount atomic.Uint64
}

// NewClient creates a push client bound to the given Auth. A nil
// httpClient gets the default transport with a 10s connect and 30s
// overall timeout (tunable via STK_CONNECT_TIMEOUT_MS / STK_TIMEOUT_MS).
// In-flight submissions are bounded by STK_PUSH_PARALLELISM.
func NewClient(a *auth.Auth, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		connectTimeout := time.Duration(config.GetInt("STK_CONNECT_TIMEOUT_MS", defaultConnectTimeoutMs)) * time.Millisecond
		overallTimeout := time.Duration(config.GetInt("STK_TIMEOUT_MS", defaultTimeoutMs)) * time.Millisecond

		httpClient = &http.Client{
			Timeout: overallTimeout,
			Transport: &http.Transport{
				DialContext:     (&net.Dialer{Timeout: connectTimeout}).DialContext,
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		auth:      a,
		client:    httpClient,
		logger:    logger,
		timestamp: timestamp.Generate(),
		sem:       make(chan struct{}, config.GetInt("STK_PUSH_PARALLELISM", defaultParallelism)),
	}
}

// Timestamp returns the timestamp captured at construction.
func (c *Client) Timestamp() string {
	return c.timestamp
}

// GeneratePassword derives the push password:
// base64(shortCode + passkey + timestamp). Deterministic, empty input
// yields an empty string.
func GeneratePassword(shortCode, passkey, ts string) string {
	combined := shortCode + passkey + ts
	if combined == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(combined))
}

// Submit dispatches the request on a bounded worker and returns
// immediately. The returned channel is buffered and resolves exactly once
// with the outcome; abandoning it does not stop the underlying call.
// Password and Timestamp are overwritten before submission regardless of
// caller-supplied values.
func (c *Client) Submit(ctx context.Context, req PushRequest) <-chan Result {
	req.Password = GeneratePassword(req.BusinessShortCode, c.auth.Passkey(), c.timestamp)
	req.Timestamp = c.timestamp

	ch := make(chan Result, 1)
	go func() {
		c.sem <- struct{}{}
		defer func() { <-c.sem }()

		ch <- c.process(ctx, req)
	}()
	return ch
}

func (c *Client) process(ctx context.Context, req PushRequest) Result {
	start := time.Now()
	defer func() {
		pushDurationHistogram.Update(float64(time.Since(start).Milliseconds()))
	}()

	if err := Validate(req); err != nil {
		return c.failure(ctx, pushValidationFailedCounter, errors.Wrap(err, "request validation failed"))
	}

	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return c.failure(ctx, pushAuthFailedCounter, errors.Wrap(err, "fetching access token"))
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return c.failure(ctx, pushParseErrorCounter, errors.Wrap(err, "encoding push request"))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.auth.BaseURL()+pushEndpoint, bytes.NewReader(payload))
	if err != nil {
		return c.failure(ctx, pushTransportFailedCounter, errors.Wrap(err, "building push request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return c.failure(ctx, pushTransportFailedCounter, errors.Wrap(err, "push request failed"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.failure(ctx, pushTransportFailedCounter, errors.Wrap(err, "reading push response"))
	}

	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.ErrorMessage != "" {
			return c.failure(ctx, pushAPIErrorCounter, errors.Errorf("push rejected: %s (code %s)", apiErr.ErrorMessage, apiErr.ErrorCode))
		}
		return c.failure(ctx, pushAPIErrorCounter, errors.Errorf("HTTP error %d", resp.StatusCode))
	}

	var pushResp PushResponse
	if err := json.Unmarshal(body, &pushResp); err != nil {
		return c.failure(ctx, pushParseErrorCounter, errors.Wrap(err, "decoding push response"))
	}
	if pushResp.MerchantRequestID == "" && pushResp.CheckoutRequestID == "" {
		return c.failure(ctx, pushParseErrorCounter, errors.New("push response missing request identifiers"))
	}

	c.successCount.Add(1)
	pushSuccessCounter.Inc()
	c.logger.InfoContext(ctx, "STK push accepted",
		"merchantRequestId", pushResp.MerchantRequestID,
		"checkoutRequestId", pushResp.CheckoutRequestID)

	return Result{Response: &pushResp}
}

func (c *Client) failure(ctx context.Context, counter *metrics.Counter, err error) Result {
	c.failureCount.Add(1)
	counter.Inc()
	c.logger.ErrorContext(ctx, "STK push failed", "error", err.Error())
	return Result{Err: err}
}

// SuccessCount returns the number of accepted submissions since the
// client was created.
func (c *Client) SuccessCount() uint64 {
	return c.successCount.Load()
}

// FailureCount returns the number of failed submissions since the client
// was created.
func (c *Client) FailureCount() uint64 {
	return c.failureCount.Load()
}
