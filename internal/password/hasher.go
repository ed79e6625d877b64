package password

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// dummyCredential is verified against when an account does not exist.
const dummyCredential = "00000000000000000000000000000000:" +
	"0000000000000000000000000000000000000000000000000000000000000000"

// Hasher bounds how many derivations run at once.
type Hasher struct {
	slots *semaphore.Weighted
}

func NewHasher(concurrency int) *Hasher {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Hasher{slots: semaphore.NewWeighted(int64(concurrency))}
}

// Hash returns a credential for password. It fails only if ctx ends before a
// slot frees up or the random source fails.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("wait for hash slot: %w", err)
	}
	defer h.slots.Release(1)

	return Hash(password)
}

// Verify checks password against stored. The error is non-nil only if ctx
// ends before a slot frees up.
func (h *Hasher) Verify(ctx context.Context, password, stored string) (bool, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("wait for hash slot: %w", err)
	}
	defer h.slots.Release(1)

	return Verify(password, stored), nil
}

// Dummy burns one verification for an account that does not exist.
func (h *Hasher) Dummy(ctx context.Context, password string) error {
	if password == "" {
		password = "-"
	}
	_, err := h.Verify(ctx, password, dummyCredential)
	return err
}
