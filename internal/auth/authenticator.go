package auth

import (
	"context"
	"errors"
	"net/http"

	"auth-serverless/internal/common"
	"auth-serverless/internal/observability"
	"auth-serverless/internal/token"
)

type subjectKey struct{}

func WithSubject(ctx context.Context, subjectID int64) context.Context {
	return context.WithValue(ctx, subjectKey{}, subjectID)
}

func SubjectFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(subjectKey{}).(int64)
	return id, ok
}

// Authenticator checks the access token cookie. It never touches storage.
type Authenticator struct {
	codec  *token.Codec
	logger *observability.Logger
}

func NewAuthenticator(codec *token.Codec, logger *observability.Logger) *Authenticator {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Authenticator{codec: codec, logger: logger}
}

// Authenticate returns the subject of the request's access token, or
// common.ErrUnauthenticated for every kind of failure.
func (a *Authenticator) Authenticate(r *http.Request) (int64, error) {
	cookie, err := r.Cookie(AccessCookie)
	if err != nil || cookie.Value == "" {
		return 0, common.ErrUnauthenticated
	}

	subjectID, err := a.codec.Verify(cookie.Value)
	if err != nil {
		a.logger.Debug("access_token_rejected", map[string]any{
			"request_id": observability.RequestID(r.Context()),
			"reason":     rejectReason(err),
		})
		return 0, common.ErrUnauthenticated
	}
	return subjectID, nil
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subjectID, err := a.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, messageUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subjectID)))
	})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, token.ErrMalformedToken):
		return "malformed"
	default:
		return "unknown"
	}
}
