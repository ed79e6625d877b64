package maintenance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth-serverless/internal/refresh"
	"auth-serverless/internal/storage/memory"
)

type statsFunc func(ctx context.Context) (refresh.Stats, error)

func (f statsFunc) Stats(ctx context.Context) (refresh.Stats, error) { return f(ctx) }

func call(h *SessionsHandler, method, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/internal/maintenance/sessions", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestSessionsHandlerHiddenWithoutSecret(t *testing.T) {
	h := NewSessionsHandler(statsFunc(func(context.Context) (refresh.Stats, error) {
		t.Fatal("stats must not be read")
		return refresh.Stats{}, nil
	}), nil, "  ")

	assert.Equal(t, http.StatusNotFound, call(h, http.MethodGet, "Bearer anything").Code)
}

func TestSessionsHandlerAuth(t *testing.T) {
	h := NewSessionsHandler(statsFunc(func(context.Context) (refresh.Stats, error) {
		return refresh.Stats{}, nil
	}), nil, "cron-secret")

	assert.Equal(t, http.StatusUnauthorized, call(h, http.MethodGet, "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(h, http.MethodGet, "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, call(h, http.MethodGet, "Basic cron-secret").Code)
	assert.Equal(t, http.StatusOK, call(h, http.MethodPost, "bearer cron-secret").Code)
}

func TestSessionsHandlerCounts(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewRefreshStore()
	lifecycle := refresh.NewLifecycle(store, time.Hour, refresh.WithClock(func() time.Time { return now }))

	first, err := lifecycle.Issue(context.Background(), 1)
	require.NoError(t, err)
	_, err = lifecycle.Issue(context.Background(), 2)
	require.NoError(t, err)
	require.NoError(t, lifecycle.Revoke(context.Background(), first.Token))

	h := NewSessionsHandler(lifecycle, nil, "cron-secret")
	rec := call(h, http.MethodGet, "Bearer cron-secret")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","result":{"active":1,"revoked":1,"expired":0}}`, rec.Body.String())
}

func TestSessionsHandlerFailures(t *testing.T) {
	unsupported := NewSessionsHandler(statsFunc(func(context.Context) (refresh.Stats, error) {
		return refresh.Stats{}, refresh.ErrStatsUnsupported
	}), nil, "s")
	assert.Equal(t, http.StatusNotImplemented, call(unsupported, http.MethodGet, "Bearer s").Code)

	broken := NewSessionsHandler(statsFunc(func(context.Context) (refresh.Stats, error) {
		return refresh.Stats{}, errors.New("db down")
	}), nil, "s")
	assert.Equal(t, http.StatusServiceUnavailable, call(broken, http.MethodGet, "Bearer s").Code)
}
