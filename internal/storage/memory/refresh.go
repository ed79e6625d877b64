package memory

import (
	"context"
	"sync"
	"time"

	"auth-serverless/internal/refresh"
)

// RefreshStore holds its lock across every check-and-write, which makes
// Rotate atomic.
type RefreshStore struct {
	mu      sync.Mutex
	records map[string]refresh.Record
}

func NewRefreshStore() *RefreshStore {
	return &RefreshStore{records: make(map[string]refresh.Record)}
}

func (s *RefreshStore) Insert(_ context.Context, rec refresh.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.TokenHash]; ok {
		return refresh.ErrDuplicateToken
	}
	s.records[rec.TokenHash] = rec
	return nil
}

func (s *RefreshStore) Rotate(ctx context.Context, oldHash string, now time.Time, next refresh.Record) (refresh.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return refresh.Record{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.records[oldHash]
	if !ok || !old.Active(now) {
		return refresh.Record{}, false, nil
	}
	if _, taken := s.records[next.TokenHash]; taken {
		return refresh.Record{}, false, refresh.ErrDuplicateToken
	}

	revokedAt := now
	replacedBy := next.ID
	old.RevokedAt = &revokedAt
	old.ReplacedBy = &replacedBy
	s.records[oldHash] = old

	next.SubjectID = old.SubjectID
	s.records[next.TokenHash] = next

	return next, true, nil
}

func (s *RefreshStore) Revoke(_ context.Context, hash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[hash]
	if !ok || rec.RevokedAt != nil {
		return nil
	}
	revokedAt := now
	rec.RevokedAt = &revokedAt
	s.records[hash] = rec
	return nil
}

func (s *RefreshStore) Stats(_ context.Context, now time.Time) (refresh.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats refresh.Stats
	for _, rec := range s.records {
		switch {
		case rec.RevokedAt != nil:
			stats.Revoked++
		case rec.Active(now):
			stats.Active++
		default:
			stats.Expired++
		}
	}
	return stats, nil
}

// Find returns a copy of the record stored under hash.
func (s *RefreshStore) Find(hash string) (refresh.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[hash]
	return rec, ok
}

// ActiveFor lists the records of subjectID still usable at now.
func (s *RefreshStore) ActiveFor(subjectID int64, now time.Time) []refresh.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []refresh.Record
	for _, rec := range s.records {
		if rec.SubjectID == subjectID && rec.Active(now) {
			active = append(active, rec)
		}
	}
	return active
}

// Len is the number of records ever stored.
func (s *RefreshStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}
