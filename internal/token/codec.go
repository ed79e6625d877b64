// Package token mints and verifies short-lived signed access tokens.
//
// Wire form: base64url(payload) "." base64url(HMAC-SHA256(secret, base64url(payload))).
// Verification is local; nothing is looked up in a store, which is why
// the lifetime must stay short.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTTL = 15 * time.Minute
	separator  = "."
)

var (
	ErrMissingSecret  = errors.New("access token secret is not set")
	ErrInvalidTTL     = errors.New("access token ttl must not be negative")
	ErrMalformedToken = errors.New("malformed access token")
	ErrBadSignature   = errors.New("access token signature mismatch")
	ErrExpired        = errors.New("access token expired")
)

var encoding = base64.RawURLEncoding.Strict()

type payload struct {
	Subject   int64 `json:"sub"`
	ExpiresAt int64 `json:"exp"`
}

// Codec is immutable after construction and safe for concurrent use.
type Codec struct {
	secret []byte
	ttl    time.Duration
	method *jwt.SigningMethodHMAC
	now    func() time.Time
}

type Option func(*Codec)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec fails when the secret is empty. That is a configuration problem,
// so it is reported once here rather than on every Mint.
func NewCodec(secret []byte, ttl time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	if ttl < 0 {
		return nil, ErrInvalidTTL
	}

	c := &Codec{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		method: jwt.SigningMethodHS256,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Mint returns a token for subjectID and the instant it stops being valid.
func (c *Codec) Mint(subjectID int64) (string, time.Time, error) {
	expiresAt := c.now().Add(c.ttl)

	body, err := json.Marshal(payload{Subject: subjectID, ExpiresAt: expiresAt.UnixMilli()})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode payload: %w", err)
	}
	encodedPayload := encoding.EncodeToString(body)

	signature, err := c.method.Sign(encodedPayload, c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign payload: %w", err)
	}

	return encodedPayload + separator + encoding.EncodeToString(signature), expiresAt, nil
}

// Verify returns the subject of a token that is well-formed, correctly
// signed and not yet expired. The returned errors tell these cases apart for
// diagnostics; callers at the edge should not expose the difference.
func (c *Codec) Verify(token string) (int64, error) {
	if strings.Count(token, separator) != 1 {
		return 0, ErrMalformedToken
	}
	encodedPayload, encodedSignature, _ := strings.Cut(token, separator)
	if encodedPayload == "" || encodedSignature == "" {
		return 0, ErrMalformedToken
	}

	signature, err := encoding.DecodeString(encodedSignature)
	if err != nil {
		return 0, ErrBadSignature
	}
	// HMAC comparison inside Verify is constant-time (hmac.Equal).
	if err := c.method.Verify(encodedPayload, signature, c.secret); err != nil {
		return 0, ErrBadSignature
	}

	body, err := encoding.DecodeString(encodedPayload)
	if err != nil {
		return 0, ErrMalformedToken
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return 0, ErrMalformedToken
	}

	if c.now().UnixMilli() >= p.ExpiresAt {
		return 0, ErrExpired
	}

	return p.Subject, nil
}
