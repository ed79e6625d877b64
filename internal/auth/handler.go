package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"auth-serverless/internal/common"
	"auth-serverless/internal/observability"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"

	maxJSONBodyBytes = 1 << 20

	messageConflict           = "Email already registered"
	messageInvalidCredentials = "Invalid email or password"
	messageUnauthenticated    = "Missing or invalid token"
)

// CookieConfig controls the session cookies. MaxAge follows each token's TTL.
type CookieConfig struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Handler struct {
	service *Service
	logger  *observability.Logger
	cookies CookieConfig
}

func NewHandler(service *Service, logger *observability.Logger, cookies CookieConfig) *Handler {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Handler{service: service, logger: logger, cookies: cookies}
}

// Register mounts the auth routes. /auth/me sits behind authn.
func (h *Handler) Register(mux *http.ServeMux, authn *Authenticator) {
	mux.HandleFunc("POST /auth/signup", h.Signup)
	mux.HandleFunc("POST /auth/signin", h.Signin)
	mux.HandleFunc("POST /auth/refresh", h.Refresh)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.Handle("GET /auth/me", authn.Middleware(http.HandlerFunc(h.Me)))
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	User Identity `json:"user"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Signup(r.Context(), body.Email, body.Password)
	if err != nil {
		h.fail(w, r, "signup", err)
		return
	}

	h.setSession(w, sess.Tokens)
	writeJSON(w, http.StatusCreated, userResponse{User: sess.Identity})
}

func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Signin(r.Context(), body.Email, body.Password)
	if err != nil {
		h.fail(w, r, "signin", err)
		return
	}

	h.setSession(w, sess.Tokens)
	writeJSON(w, http.StatusOK, userResponse{User: sess.Identity})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	tokens, ok, err := h.service.Refresh(r.Context(), cookieValue(r, RefreshCookie))
	if err != nil {
		h.fail(w, r, "refresh", err)
		return
	}
	if !ok {
		h.clearSession(w)
		writeJSON(w, http.StatusOK, okResponse{OK: false})
		return
	}

	h.setSession(w, tokens)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// Logout always ends the client session, even when revocation failed.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), cookieValue(r, RefreshCookie)); err != nil {
		h.report(r, "logout", err)
	}

	h.clearSession(w)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := SubjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, messageUnauthenticated)
		return
	}

	identity, found, err := h.service.IdentityFor(r.Context(), subjectID)
	if err != nil {
		h.fail(w, r, "me", err)
		return
	}
	if !found {
		writeError(w, http.StatusUnauthorized, messageUnauthenticated)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: identity})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var validationErr *common.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, common.ErrConflict):
		writeError(w, http.StatusConflict, messageConflict)
	case errors.Is(err, common.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, messageInvalidCredentials)
	case errors.Is(err, common.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, messageUnauthenticated)
	case common.IsStorage(err):
		h.report(r, op, err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		h.report(r, op, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) report(r *http.Request, op string, err error) {
	requestID := observability.RequestID(r.Context())
	observability.CaptureError(err, requestID)
	h.logger.Error(op+"_failed", map[string]any{
		"request_id": requestID,
		"error":      err.Error(),
	})
}

func (h *Handler) setSession(w http.ResponseWriter, tokens Tokens) {
	http.SetCookie(w, h.cookie(AccessCookie, tokens.AccessToken, maxAge(h.cookies.AccessTTL)))
	http.SetCookie(w, h.cookie(RefreshCookie, tokens.RefreshToken, maxAge(h.cookies.RefreshTTL)))
}

func (h *Handler) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(AccessCookie, "", -1))
	http.SetCookie(w, h.cookie(RefreshCookie, "", -1))
}

func (h *Handler) cookie(name, value string, age int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   age,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// maxAge converts a TTL to cookie seconds. A zero TTL yields an already
// expired cookie rather than a browser-session one.
func maxAge(ttl time.Duration) int {
	seconds := int(ttl / time.Second)
	if seconds <= 0 {
		return -1
	}
	return seconds
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body credentialsRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return credentialsRequest{}, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
