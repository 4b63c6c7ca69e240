package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricebot/internal/config"
)

func newTestIndicators(t *testing.T, h http.HandlerFunc, retries int) *HTTPIndicators {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	ind := NewHTTPIndicators(HTTPIndicatorsConfig{
		URL:     ts.URL + "/pivots",
		APIKey:  "secret",
		Timeout: 5 * time.Second,
		Retries: retries,
		Logger:  testLogger(),
	})
	ind.retry.backoff = func(int) time.Duration { return time.Millisecond }
	return ind
}

func TestHTTPIndicators_ReturnsBodyVerbatim(t *testing.T) {
	var auth string
	ind := newTestIndicators(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"BTCUSDT":{"r1":101.5,"s1":98.2}}`+"\n")
	}, 0)

	summary, err := ind.ComputeIndicators(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"BTCUSDT":{"r1":101.5,"s1":98.2}}`, string(summary))
	assert.Equal(t, "Bearer secret", auth)
}

func TestHTTPIndicators_NonSuccessIsError(t *testing.T) {
	ind := newTestIndicators(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such market", http.StatusNotFound)
	}, 3)

	_, err := ind.ComputeIndicators(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestHTTPIndicators_InvalidJSON(t *testing.T) {
	ind := newTestIndicators(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pivot points unavailable")
	}, 0)

	_, err := ind.ComputeIndicators(context.Background())
	assert.ErrorIs(t, err, ErrInvalidSummary)
}

func TestHTTPIndicators_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	ind := newTestIndicators(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	}, 3)

	summary, err := ind.ComputeIndicators(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(summary))
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPIndicators_GivesUpAfterRetries(t *testing.T) {
	var hits atomic.Int32
	ind := newTestIndicators(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, 2)

	_, err := ind.ComputeIndicators(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, int32(3), hits.Load())
}

func TestStaticIndicators(t *testing.T) {
	s, err := NewStaticIndicators(` {"ETH":1} `)
	require.NoError(t, err)
	got, err := s.ComputeIndicators(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"ETH":1}`, string(got))

	empty, err := NewStaticIndicators("")
	require.NoError(t, err)
	got, err = empty.ComputeIndicators(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(got))

	_, err = NewStaticIndicators("{broken")
	assert.ErrorIs(t, err, ErrInvalidSummary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ComputeIndicators(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewIndicators_PicksImplementation(t *testing.T) {
	ind, err := NewIndicators(config.IndicatorsConfig{Static: `{"a":1}`}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &StaticIndicators{}, ind)

	ind, err = NewIndicators(config.IndicatorsConfig{URL: "http://localhost:1/x", TimeoutSeconds: 1}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &HTTPIndicators{}, ind)

	_, err = NewIndicators(config.IndicatorsConfig{Static: "nope"}, testLogger())
	assert.Error(t, err)
}
