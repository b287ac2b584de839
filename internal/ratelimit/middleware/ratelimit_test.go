package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura/internal/ratelimit/models"
)

// stubEnforcer returns a canned decision or error and records the last call.
type stubEnforcer struct {
	decision *models.Decision
	err      error

	calls        int
	lastKey      models.ClientKey
	lastEndpoint string
}

func (s *stubEnforcer) Check(_ context.Context, key models.ClientKey, endpoint string) (*models.Decision, error) {
	s.calls++
	s.lastKey = key
	s.lastEndpoint = endpoint
	return s.decision, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func userRequest(t *testing.T) *http.Request {
	t.Helper()
	r := httptest.NewRequest("POST", "/ask", strings.NewReader(`{"user_id":"u-42","question":"hi"}`))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestEnforceAllowed(t *testing.T) {
	resetAt := time.Unix(1_700_000_040, 0)
	stub := &stubEnforcer{decision: &models.Decision{
		Allowed:           true,
		Reason:            models.ReasonOK,
		Limit:             5,
		RequestsMade:      2,
		RequestsRemaining: 3,
		ResetAt:           resetAt,
		Tier:              models.TierPro,
		MonthlyUsage:      120,
		MonthlyLimit:      1000,
	}}
	gate := New(stub, nil)

	rec := httptest.NewRecorder()
	gate.Enforce("ask")(okHandler()).ServeHTTP(rec, userRequest(t))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, models.ClientKey("user:u-42"), stub.lastKey)
	assert.Equal(t, "ask", stub.lastEndpoint)

	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000040", rec.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "pro", rec.Header().Get("X-Subscription-Tier"))
	assert.Equal(t, "120", rec.Header().Get("X-Monthly-Usage"))
	assert.Equal(t, "1000", rec.Header().Get("X-Monthly-Limit"))
	assert.Equal(t, "880", rec.Header().Get("X-Monthly-Queries-Remaining"))
}

func TestEnforceAnonymousOmitsSubscriptionHeaders(t *testing.T) {
	stub := &stubEnforcer{decision: &models.Decision{
		Allowed:           true,
		Reason:            models.ReasonOK,
		Limit:             20,
		RequestsRemaining: 19,
		ResetAt:           time.Unix(1_700_000_040, 0),
		MonthlyLimit:      models.UnlimitedQuota,
	}}
	gate := New(stub, nil)

	r := httptest.NewRequest("GET", "/wearables/daily", nil)
	r.RemoteAddr = "198.51.100.4:1234"
	rec := httptest.NewRecorder()
	gate.Enforce("wearables")(okHandler()).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ClientKey("ip:198.51.100.4"), stub.lastKey)
	assert.Equal(t, "20", rec.Header().Get("X-RateLimit-Limit"))
	assert.Empty(t, rec.Header().Get("X-Subscription-Tier"))
	assert.Empty(t, rec.Header().Get("X-Monthly-Usage"))
}

func TestEnforceMonthlyLimitExceeded(t *testing.T) {
	stub := &stubEnforcer{decision: &models.Decision{
		Allowed:      false,
		Reason:       models.ReasonMonthlyLimitExceeded,
		Limit:        5,
		ResetAt:      time.Unix(1_700_000_040, 0),
		Tier:         models.TierFree,
		MonthlyUsage: 50,
		MonthlyLimit: 50,
	}}
	gate := New(stub, nil, WithUpgradeURL("https://example.test/upgrade"))

	rec := httptest.NewRecorder()
	gate.Enforce("ask")(okHandler()).ServeHTTP(rec, userRequest(t))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Upgrade-Required"))
	assert.Empty(t, rec.Header().Get("Retry-After"))

	var body models.MonthlyLimitExceededResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "monthly_limit_exceeded", body.Error)
	assert.Equal(t, models.TierFree, body.Tier)
	assert.Equal(t, 50, body.MonthlyUsage)
	assert.Equal(t, 50, body.MonthlyLimit)
	assert.True(t, body.UpgradeRequired)
	assert.Equal(t, "https://example.test/upgrade", body.UpgradeURL)
}

func TestEnforceRateLimitExceeded(t *testing.T) {
	stub := &stubEnforcer{decision: &models.Decision{
		Allowed:      false,
		Reason:       models.ReasonRateLimitExceeded,
		Limit:        5,
		RequestsMade: 5,
		ResetAt:      time.Unix(1_700_000_040, 0),
		RetryAfter:   37,
		Tier:         models.TierFree,
		MonthlyLimit: 50,
	}}
	gate := New(stub, nil)

	rec := httptest.NewRecorder()
	gate.Enforce("ask")(okHandler()).ServeHTTP(rec, userRequest(t))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "37", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var body models.RateLimitExceededResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body.Error)
	assert.Equal(t, 37, body.RetryAfter)
}

func TestEnforceFailsOpenOnCheckError(t *testing.T) {
	stub := &stubEnforcer{err: errors.New("policy table hole")}
	gate := New(stub, nil)

	rec := httptest.NewRecorder()
	gate.Enforce("ask")(okHandler()).ServeHTTP(rec, userRequest(t))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestEnforceDisabled(t *testing.T) {
	stub := &stubEnforcer{}
	gate := New(stub, nil, WithDisabled(true))

	rec := httptest.NewRecorder()
	gate.Enforce("ask")(okHandler()).ServeHTTP(rec, userRequest(t))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, stub.calls, "disabled gate never consults the enforcer")
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}
