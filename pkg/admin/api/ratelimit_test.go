package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(start time.Time) (*rateLimiter, *time.Time) {
	now := start
	l := newRateLimiter()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestRateLimiterAllowAndRefill(t *testing.T) {
	l, now := testLimiter(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))

	l.SetLimit("svc-1", 2)
	assert.True(t, l.Allow("svc-1"))
	assert.True(t, l.Allow("svc-1"))
	assert.False(t, l.Allow("svc-1"))

	// Half a minute refills half the allowance.
	*now = now.Add(30 * time.Second)
	assert.True(t, l.Allow("svc-1"))
	assert.False(t, l.Allow("svc-1"))

	// Idling caps the bucket at the limit, never beyond it.
	*now = now.Add(10 * time.Minute)
	assert.True(t, l.Allow("svc-1"))
	assert.True(t, l.Allow("svc-1"))
	assert.False(t, l.Allow("svc-1"))
}

// Clients that never authenticated successfully still get bounded
func TestRateLimiterDefaultAllowance(t *testing.T) {
	l, _ := testLimiter(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < defaultTokenRate; i++ {
		require.True(t, l.Allow("unknown"), "request %d", i)
	}
	assert.False(t, l.Allow("unknown"))
}

// Raising the limit keeps the current fill; a drained client cannot buy
// itself a fresh burst by authenticating.
func TestRateLimiterSetLimitKeepsFill(t *testing.T) {
	l, now := testLimiter(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))

	l.SetLimit("svc-1", 1)
	require.True(t, l.Allow("svc-1"))
	require.False(t, l.Allow("svc-1"))

	l.SetLimit("svc-1", 100)
	assert.False(t, l.Allow("svc-1"))

	// The higher limit does apply to the refill rate.
	*now = now.Add(time.Minute)
	assert.True(t, l.Allow("svc-1"))
}

// An over-limit client is answered 429 before any credential check runs
func TestClientCredentialsRateLimited(t *testing.T) {
	s := &Server{limiter: newRateLimiter()}
	s.limiter.SetLimit("svc-1", 1)
	require.True(t, s.limiter.Allow("svc-1"))

	body := bytes.NewBufferString(`{"client_id":"svc-1","client_secret":"whatever"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", body)
	rec := httptest.NewRecorder()
	s.handleClientCredentials(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")
}
