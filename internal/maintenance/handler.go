package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"auth-serverless/internal/observability"
	"auth-serverless/internal/refresh"
)

// StatsSource reports refresh record counts. *refresh.Lifecycle satisfies it.
type StatsSource interface {
	Stats(ctx context.Context) (refresh.Stats, error)
}

// SessionsHandler exposes session counts to the scheduler that calls it.
// It is hidden (404) unless a cron secret is configured.
type SessionsHandler struct {
	source     StatsSource
	logger     *observability.Logger
	cronSecret string
}

func NewSessionsHandler(source StatsSource, logger *observability.Logger, cronSecret string) *SessionsHandler {
	if logger == nil {
		logger = observability.Discard()
	}
	return &SessionsHandler{
		source:     source,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
	}
}

func (h *SessionsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	stats, err := h.source.Stats(r.Context())
	if err != nil {
		if errors.Is(err, refresh.ErrStatsUnsupported) {
			writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "session stats unavailable"})
			return
		}
		observability.CaptureError(err, observability.RequestID(r.Context()))
		h.logger.Error("session_stats_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session stats failed"})
		return
	}

	h.logger.Info("session_stats_collected", map[string]any{
		"active":  stats.Active,
		"revoked": stats.Revoked,
		"expired": stats.Expired,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": stats,
	})
}

func (h *SessionsHandler) authorized(r *http.Request) bool {
	scheme, credential, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(credential)), []byte(h.cronSecret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
