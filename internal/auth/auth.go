// Package auth owns the Daraja OAuth credentials and the cached bearer
// token shared by every client that talks to the API.
package auth

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"
	authEndpoint      = "/oauth/v1/generate"

	defaultTimeoutMs = 30_000
)

var (
	refreshSuccessCounter = metrics.GetOrCreateCounter(`auth_refresh_total{result="success"}`)
	refreshFailureCounter = metrics.GetOrCreateCounter(`auth_refresh_total{result="failure"}`)
)

// Auth caches a bearer token together with its expiry. All access to the
// cached pair is serialized by a single mutex held for the whole
// check-then-refresh-then-read sequence, so a cold burst of concurrent
// callers triggers exactly one refresh and nobody ever observes a
// half-installed token.
type Auth struct {
	config Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	lastError   ErrorCode
}

// New creates an Auth bound to the given credentials. A nil httpClient
// gets a TLS 1.2+ client with a 30s timeout; a nil logger falls back to
// slog.Default.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Auth {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultTimeoutMs * time.Millisecond,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Auth{
		config: cfg,
		client: httpClient,
		logger: logger,
		now:    time.Now,
	}
}

// BaseURL returns the API origin for the configured environment.
func (a *Auth) BaseURL() string {
	if a.config.Sandbox {
		return sandboxBaseURL
	}
	return productionBaseURL
}

// Passkey returns the STK push passkey from the credentials.
func (a *Auth) Passkey() string {
	return a.config.Passkey
}

// AccessToken returns a valid bearer token, refreshing it first when the
// cached one is absent or past its expiry. A failed refresh leaves the
// cache untouched and returns a classified *Error.
func (a *Auth) AccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.validAt(a.now()) {
		return a.token, nil
	}

	if err := a.refresh(ctx); err != nil {
		return "", err
	}
	return a.token, nil
}

// TokenValid reports whether a cached token exists and is still valid at
// the given instant.
func (a *Auth) TokenValid(at time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token != "" && a.validAt(at)
}

// LastError returns the classification of the most recent refresh
// failure. A successful refresh resets it to CodeOK.
func (a *Auth) LastError() ErrorCode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastError
}

func (a *Auth) validAt(at time.Time) bool {
	return at.Before(a.tokenExpiry)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
	ErrorCode   string `json:"errorCode"`
}

// refresh performs one client-credentials call. Callers must hold the
// mutex. On any failure the cached token is left as it was.
func (a *Auth) refresh(ctx context.Context) error {
	url := a.BaseURL() + authEndpoint + "?grant_type=client_credentials"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return a.fail(ctx, &Error{Code: CodeNetworkError, Message: "building token request", Err: err})
	}
	req.Header.Set("Authorization", "Basic "+basicAuth(a.config.ConsumerKey, a.config.ConsumerSecret))

	resp, err := a.client.Do(req)
	if err != nil {
		return a.fail(ctx, &Error{Code: classifyTransportError(err), Message: "token request failed", Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return a.fail(ctx, &Error{Code: CodeNetworkError, Message: "reading token response", Err: err})
	}

	var parsed tokenResponse
	decodeErr := json.Unmarshal(body, &parsed)

	// The provider reports application errors through an errorCode field,
	// on both 4xx and 2xx statuses.
	if decodeErr == nil && parsed.ErrorCode != "" {
		return a.fail(ctx, &Error{
			Code:    mapProviderCode(parsed.ErrorCode),
			Message: fmt.Sprintf("provider rejected token request (errorCode %s)", parsed.ErrorCode),
		})
	}

	if resp.StatusCode >= 400 {
		return a.fail(ctx, &Error{Code: CodeHTTPError, Message: fmt.Sprintf("token request returned HTTP %d", resp.StatusCode)})
	}

	if decodeErr != nil {
		return a.fail(ctx, &Error{Code: CodeParseError, Message: "decoding token response", Err: decodeErr})
	}

	// expires_in arrives as a string-of-int, e.g. "3599".
	expiresIn, err := strconv.Atoi(parsed.ExpiresIn)
	if err != nil || parsed.AccessToken == "" {
		return a.fail(ctx, &Error{Code: CodeParseError, Message: "token response missing access_token or expires_in", Err: err})
	}

	a.token = parsed.AccessToken
	a.tokenExpiry = a.now().Add(time.Duration(expiresIn) * time.Second)
	a.lastError = CodeOK

	refreshSuccessCounter.Inc()
	a.logger.InfoContext(ctx, "Access token refreshed", "expires_in", expiresIn)

	return nil
}

func (a *Auth) fail(ctx context.Context, e *Error) error {
	a.lastError = e.Code
	refreshFailureCounter.Inc()
	a.logger.ErrorContext(ctx, "Token refresh failed", "code", string(e.Code), "error", e.Error())
	return e
}

func basicAuth(key, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(key + ":" + secret))
}
