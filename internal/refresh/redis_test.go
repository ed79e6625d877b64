package refresh

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisStore(client, "")
}

func issueInto(t *testing.T, store Store, subject int64, now time.Time) (string, Record) {
	t.Helper()
	token, err := GenerateToken()
	require.NoError(t, err)
	rec := Record{
		ID:        "id-" + token[:8],
		TokenHash: HashToken(token),
		SubjectID: subject,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	require.NoError(t, store.Insert(context.Background(), rec))
	return token, rec
}

func TestRedisInsertWritesHash(t *testing.T) {
	mr, store := newTestRedis(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, rec := issueInto(t, store, 21, now)
	key := defaultRedisPrefix + rec.TokenHash

	assert.Equal(t, "21", mr.HGet(key, "subject_id"))
	assert.Equal(t, strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10), mr.HGet(key, "expires_at"))
	assert.Equal(t, "", mr.HGet(key, "revoked_at"))

	err := store.Insert(context.Background(), rec)
	require.ErrorIs(t, err, ErrDuplicateToken)
}

func TestRedisRotate(t *testing.T) {
	mr, store := newTestRedis(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, old := issueInto(t, store, 21, now)

	next := testRecord(now)
	rec, ok, err := store.Rotate(context.Background(), old.TokenHash, now.Add(time.Minute), next)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(21), rec.SubjectID)

	oldKey := defaultRedisPrefix + old.TokenHash
	assert.NotEmpty(t, mr.HGet(oldKey, "revoked_at"))
	assert.Equal(t, next.ID, mr.HGet(oldKey, "replaced_by"))
	assert.Equal(t, "21", mr.HGet(defaultRedisPrefix+next.TokenHash, "subject_id"))

	_, ok, err = store.Rotate(context.Background(), old.TokenHash, now.Add(2*time.Minute), testRecord(now))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisRotateRejectsExpiredAndUnknown(t *testing.T) {
	mr, store := newTestRedis(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, old := issueInto(t, store, 21, now)

	_, ok, err := store.Rotate(context.Background(), old.TokenHash, now.Add(time.Hour), testRecord(now))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", mr.HGet(defaultRedisPrefix+old.TokenHash, "revoked_at"))

	_, ok, err = store.Rotate(context.Background(), HashToken("unknown"), now, testRecord(now))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(defaultRedisPrefix+testRecord(now).TokenHash))
}

func TestRedisRotateConcurrent(t *testing.T) {
	_, store := newTestRedis(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, old := issueInto(t, store, 21, now)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := GenerateToken()
			if err != nil {
				return
			}
			next := Record{
				ID:        "next-" + strconv.Itoa(i),
				TokenHash: HashToken(token),
				ExpiresAt: now.Add(time.Hour),
				CreatedAt: now,
			}
			_, ok, err := store.Rotate(context.Background(), old.TokenHash, now, next)
			if err == nil && ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisRevokeAndStats(t *testing.T) {
	_, store := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	issueInto(t, store, 1, now)
	_, revoked := issueInto(t, store, 2, now)
	issueInto(t, store, 3, now.Add(-2*time.Hour))

	require.NoError(t, store.Revoke(ctx, revoked.TokenHash, now))
	require.NoError(t, store.Revoke(ctx, revoked.TokenHash, now.Add(time.Minute)))
	require.NoError(t, store.Revoke(ctx, HashToken("missing"), now))

	stats, err := store.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Stats{Active: 1, Revoked: 1, Expired: 1}, stats)

	require.NoError(t, store.Ping(ctx))
}

func TestRedisStatsCountsEachRecordOnce(t *testing.T) {
	_, store := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	const total = 450
	for i := 0; i < total; i++ {
		issueInto(t, store, int64(i+1), now)
	}

	stats, err := store.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Stats{Active: total}, stats)
}
