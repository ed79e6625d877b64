package refresh

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"auth-serverless/internal/common"
)

const (
	DefaultTTL     = 7 * 24 * time.Hour
	DefaultTimeout = 5 * time.Second
	tokenBytes     = 32
)

var ErrStatsUnsupported = errors.New("refresh store does not report stats")

// GenerateToken returns 32 random bytes as lowercase hex.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken is the store lookup key for token. It is unkeyed on purpose:
// the token's entropy is what makes it unguessable.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type Lifecycle struct {
	store   Store
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Lifecycle)

func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// WithTimeout bounds every store call. Zero keeps DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(l *Lifecycle) {
		if timeout > 0 {
			l.timeout = timeout
		}
	}
}

func NewLifecycle(store Store, ttl time.Duration, opts ...Option) *Lifecycle {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l := &Lifecycle{
		store:   store,
		ttl:     ttl,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lifecycle) TTL() time.Duration {
	return l.ttl
}

// Issue stores a new record for subjectID and returns its plaintext token.
func (l *Lifecycle) Issue(ctx context.Context, subjectID int64) (Issued, error) {
	issued, err := l.prepare(subjectID)
	if err != nil {
		return Issued{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.store.Insert(ctx, issued.Record); err != nil {
		return Issued{}, common.Storage("insert refresh token", err)
	}

	return issued, nil
}

// Rotate consumes token and returns its replacement. The bool is false for
// any token that is unknown, expired or already revoked; that is the normal
// "session ended" outcome and not an error.
func (l *Lifecycle) Rotate(ctx context.Context, token string) (Issued, bool, error) {
	if token == "" {
		return Issued{}, false, nil
	}

	next, err := l.prepare(0)
	if err != nil {
		return Issued{}, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	rec, ok, err := l.store.Rotate(ctx, HashToken(token), l.now().UTC(), next.Record)
	if err != nil {
		return Issued{}, false, common.Storage("rotate refresh token", err)
	}
	if !ok {
		return Issued{}, false, nil
	}

	return Issued{Token: next.Token, Record: rec}, true, nil
}

// Revoke ends the session behind token. Unknown or already revoked tokens
// are a no-op.
func (l *Lifecycle) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.store.Revoke(ctx, HashToken(token), l.now().UTC()); err != nil {
		return common.Storage("revoke refresh token", err)
	}
	return nil
}

// Stats counts records when the store supports it.
func (l *Lifecycle) Stats(ctx context.Context) (Stats, error) {
	reader, ok := l.store.(StatsReader)
	if !ok {
		return Stats{}, ErrStatsUnsupported
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	stats, err := reader.Stats(ctx, l.now().UTC())
	if err != nil {
		return Stats{}, common.Storage("count refresh tokens", err)
	}
	return stats, nil
}

func (l *Lifecycle) prepare(subjectID int64) (Issued, error) {
	token, err := GenerateToken()
	if err != nil {
		return Issued{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Issued{}, fmt.Errorf("generate refresh token id: %w", err)
	}

	now := l.now().UTC()
	return Issued{
		Token: token,
		Record: Record{
			ID:        id.String(),
			TokenHash: HashToken(token),
			SubjectID: subjectID,
			ExpiresAt: now.Add(l.ttl),
			CreatedAt: now,
		},
	}, nil
}
