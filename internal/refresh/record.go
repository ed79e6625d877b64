// Package refresh issues, rotates and revokes long-lived opaque refresh
// tokens. Only the SHA-256 of a token is ever persisted.
package refresh

import (
	"context"
	"time"
)

// Record is one persisted refresh token. It is revoked at most once and
// never deleted, so revoked rows double as a replay trail.
type Record struct {
	ID         string
	TokenHash  string
	SubjectID  int64
	ExpiresAt  time.Time
	CreatedAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *string
}

// Active reports whether the record may still authenticate a refresh at now.
func (r Record) Active(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// Issued pairs the plaintext handed to the client with what was stored.
type Issued struct {
	Token  string
	Record Record
}

// Store persists refresh records.
//
// Rotate must revoke the record with oldHash and insert next as one atomic
// step, and only if that record is active at now. next.SubjectID is taken
// from the revoked record. When no active record matches it returns false
// and changes nothing. Of two concurrent calls for the same hash at most
// one may return true.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Rotate(ctx context.Context, oldHash string, now time.Time, next Record) (Record, bool, error)
	Revoke(ctx context.Context, hash string, now time.Time) error
}

type Stats struct {
	Active  int64 `json:"active"`
	Revoked int64 `json:"revoked"`
	Expired int64 `json:"expired"`
}

// StatsReader is implemented by stores that can count their records.
type StatsReader interface {
	Stats(ctx context.Context, now time.Time) (Stats, error)
}
