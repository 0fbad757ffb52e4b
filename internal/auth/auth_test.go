package auth

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T) *Auth {
	t.Helper()

	client := &http.Client{}
	gock.InterceptClient(client)

	cfg := Config{ConsumerKey: "key", ConsumerSecret: "secret", Passkey: "passkey", Sandbox: true}
	return New(cfg, client, nil)
}

func mockTokenRequest() *gock.Request {
	return gock.New("https://sandbox.safaricom.co.ke").
		Get("/oauth/v1/generate").
		MatchParam("grant_type", "client_credentials").
		MatchHeader("Authorization", "Basic a2V5OnNlY3JldA==")
}

func mockTokenEndpoint() *gock.Response {
	return mockTokenRequest().Reply(200)
}

func TestAccessToken_Success(t *testing.T) {
	defer gock.Off()
	mockTokenEndpoint().JSON(map[string]string{"access_token": "tok-1", "expires_in": "3599"})

	a := newTestAuth(t)

	token, err := a.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, CodeOK, a.LastError())
	assert.True(t, gock.IsDone())
}

func TestAccessToken_ReturnsCachedToken(t *testing.T) {
	defer gock.Off()
	mockTokenEndpoint().JSON(map[string]string{"access_token": "tok-1", "expires_in": "3599"})

	a := newTestAuth(t)

	token, err := a.AccessToken(context.Background())
	require.NoError(t, err)
	require.True(t, gock.IsDone())

	// No mock remains, so a second network call would fail.
	again, err := a.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, again)
}

func TestAccessToken_RefreshesExpiredToken(t *testing.T) {
	defer gock.Off()
	mockTokenEndpoint().JSON(map[string]string{"access_token": "tok-1", "expires_in": "3600"})
	mockTokenEndpoint().JSON(map[string]string{"access_token": "tok-2", "expires_in": "3600"})

	a := newTestAuth(t)

	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return current }

	token, err := a.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	current = current.Add(3601 * time.Second)

	token, err = a.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)
	assert.True(t, gock.IsDone())
}

func TestAccessToken_InvalidCredentials(t *testing.T) {
	defer gock.Off()
	gock.New("https://sandbox.safaricom.co.ke").
		Get("/oauth/v1/generate").
		Reply(401).
		JSON(map[string]string{"errorCode": "401.002.01"})

	a := newTestAuth(t)

	_, err := a.AccessToken(context.Background())
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, CodeInvalidCredentials, authErr.Code)
	assert.Equal(t, CodeInvalidCredentials, a.LastError())
	assert.False(t, a.TokenValid(time.Now()))
}

func TestAccessToken_ProviderErrorCodes(t *testing.T) {
	tests := []struct {
		providerCode string
		expected     ErrorCode
	}{
		{"400.008.02", CodeInvalidGrantType},
		{"400.008.01", CodeInvalidAuthType},
		{"500.001.1001", CodeServerError},
		{"999.999.99", CodeAPIError},
	}

	for _, tt := range tests {
		t.Run(tt.providerCode, func(t *testing.T) {
			defer gock.Off()
			gock.New("https://sandbox.safaricom.co.ke").
				Get("/oauth/v1/generate").
				Reply(400).
				JSON(map[string]string{"errorCode": tt.providerCode})

			a := newTestAuth(t)

			_, err := a.AccessToken(context.Background())
			require.Error(t, err)

			var authErr *Error
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.expected, authErr.Code)
		})
	}
}

func TestAccessToken_HTTPErrorWithoutBody(t *testing.T) {
	defer gock.Off()
	gock.New("https://sandbox.safaricom.co.ke").
		Get("/oauth/v1/generate").
		Reply(503).
		BodyString("Service Unavailable")

	a := newTestAuth(t)

	_, err := a.AccessToken(context.Background())
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, CodeHTTPError, authErr.Code)
}

func TestAccessToken_ParseError(t *testing.T) {
	defer gock.Off()
	gock.New("https://sandbox.safaricom.co.ke").
		Get("/oauth/v1/generate").
		Reply(200).
		BodyString("{not json")

	a := newTestAuth(t)

	_, err := a.AccessToken(context.Background())
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, CodeParseError, authErr.Code)
	assert.Equal(t, CodeParseError, a.LastError())
}

func TestAccessToken_MissingTokenField(t *testing.T) {
	defer gock.Off()
	mockTokenEndpoint().JSON(map[string]string{"expires_in": "3599"})

	a := newTestAuth(t)

	_, err := a.AccessToken(context.Background())
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, CodeParseError, authErr.Code)
}

// A cold burst of concurrent callers must produce a single refresh call;
// the lock spans the whole check-then-refresh sequence.
func TestAccessToken_ConcurrentColdStart(t *testing.T) {
	defer gock.Off()
	mockTokenRequest().
		Times(1).
		Reply(200).
		JSON(map[string]string{"access_token": "tok-1", "expires_in": "3599"})

	a := newTestAuth(t)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = a.AccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-1", results[i])
	}
	assert.True(t, gock.IsDone())
}

func TestTokenValid(t *testing.T) {
	defer gock.Off()
	mockTokenEndpoint().JSON(map[string]string{"access_token": "tok-1", "expires_in": "3600"})

	a := newTestAuth(t)

	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return start }

	assert.False(t, a.TokenValid(start))

	_, err := a.AccessToken(context.Background())
	require.NoError(t, err)

	assert.True(t, a.TokenValid(start))
	assert.True(t, a.TokenValid(start.Add(3599*time.Second)))
	assert.False(t, a.TokenValid(start.Add(3600*time.Second)))
}

func TestBaseURL(t *testing.T) {
	sandbox := New(Config{Sandbox: true}, nil, nil)
	assert.Equal(t, "https://sandbox.safaricom.co.ke", sandbox.BaseURL())

	production := New(Config{Sandbox: false}, nil, nil)
	assert.Equal(t, "https://api.safaricom.co.ke", production.BaseURL())
}

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{"dns", &net.DNSError{Err: "no such host", Name: "example.com"}, CodeDNSError},
		{"dial", &net.OpError{Op: "dial", Err: assert.AnError}, CodeConnectionError},
		{"dns timeout stays dns", &net.DNSError{Err: "timeout", IsTimeout: true}, CodeDNSError},
		{"generic", assert.AnError, CodeNetworkError},
		{"deadline", context.DeadlineExceeded, CodeTimeoutError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifyTransportError(tt.err))
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MPESA_CONSUMER_KEY", "key")
	t.Setenv("MPESA_CONSUMER_SECRET", "secret")
	t.Setenv("MPESA_PASSKEY", "passkey")
	t.Setenv("MPESA_ENVIRONMENT", "production")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.ConsumerKey)
	assert.Equal(t, "secret", cfg.ConsumerSecret)
	assert.Equal(t, "passkey", cfg.Passkey)
	assert.False(t, cfg.Sandbox)
}

func TestConfigFromEnv_DefaultsToSandbox(t *testing.T) {
	t.Setenv("MPESA_CONSUMER_KEY", "key")
	t.Setenv("MPESA_CONSUMER_SECRET", "secret")
	t.Setenv("MPESA_ENVIRONMENT", "")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Sandbox)
}

func TestConfigFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("MPESA_CONSUMER_KEY", "")
	t.Setenv("MPESA_CONSUMER_SECRET", "")

	_, err := ConfigFromEnv()
	require.Error(t, err)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, CodeConfigError, authErr.Code)
}

func TestConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mpesa.json")
	content := `{"consumer_key":"key","consumer_secret":"secret","passkey":"pk","sandbox":false}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := ConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.ConsumerKey)
	assert.Equal(t, "pk", cfg.Passkey)
	assert.False(t, cfg.Sandbox)
}

func TestConfigFromFile_Missing(t *testing.T) {
	_, err := ConfigFromFile(filepath.Join(t.TempDir(), "absent.json"))

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, CodeConfigError, authErr.Code)
}

func TestConfigFromFile_MissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mpesa.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"consumer_secret":"secret"}`), 0o600))

	_, err := ConfigFromFile(path)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, CodeConfigError, authErr.Code)
}
