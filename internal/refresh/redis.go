package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "refresh:"

var ErrDuplicateToken = errors.New("refresh token hash already stored")

// insertLua writes a record hash unless the key already exists.
// KEYS[1] = record key
// ARGV    = id, subject_id, expires_at ms, created_at ms
var insertLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'subject_id', ARGV[2], 'expires_at', ARGV[3], 'created_at', ARGV[4])
return 1
`)

// rotateLua revokes KEYS[1] and writes KEYS[2] in one step, only if KEYS[1]
// is unrevoked and unexpired.
// ARGV = now ms, next id, next expires_at ms, next created_at ms
// Returns {0, 0} when nothing matched, {1, subject_id} on success.
var rotateLua = redis.NewScript(`
local fields = redis.call('HMGET', KEYS[1], 'subject_id', 'expires_at', 'revoked_at')
local subject = fields[1]
if not subject or fields[3] then
  return {0, 0}
end
local expiresAt = tonumber(fields[2])
local now = tonumber(ARGV[1])
if not expiresAt or expiresAt <= now then
  return {0, 0}
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return redis.error_reply('refresh token hash already stored')
end
redis.call('HSET', KEYS[1], 'revoked_at', ARGV[1], 'replaced_by', ARGV[2])
redis.call('HSET', KEYS[2], 'id', ARGV[2], 'subject_id', subject, 'expires_at', ARGV[3], 'created_at', ARGV[4])
return {1, tonumber(subject)}
`)

// revokeLua stamps revoked_at on an existing, unrevoked record.
var revokeLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if redis.call('HEXISTS', KEYS[1], 'revoked_at') == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'revoked_at', ARGV[1])
return 1
`)

// RedisStore keeps one hash per record under prefix+token_hash. Records are
// not given a TTL; like the SQL rows they stay as an audit trail. The two
// keys touched by a rotation must live on one node, so cluster mode is not
// supported.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(hash string) string {
	return s.prefix + hash
}

func (s *RedisStore) Insert(ctx context.Context, rec Record) error {
	inserted, err := insertLua.Run(ctx, s.client, []string{s.key(rec.TokenHash)},
		rec.ID, rec.SubjectID, rec.ExpiresAt.UnixMilli(), rec.CreatedAt.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	if inserted == 0 {
		return ErrDuplicateToken
	}

	return nil
}

func (s *RedisStore) Rotate(ctx context.Context, oldHash string, now time.Time, next Record) (Record, bool, error) {
	result, err := rotateLua.Run(ctx, s.client, []string{s.key(oldHash), s.key(next.TokenHash)},
		now.UnixMilli(), next.ID, next.ExpiresAt.UnixMilli(), next.CreatedAt.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return Record{}, false, fmt.Errorf("rotate refresh token: %w", err)
	}
	if len(result) != 2 {
		return Record{}, false, fmt.Errorf("rotate refresh token: unexpected reply %v", result)
	}
	if result[0] == 0 {
		return Record{}, false, nil
	}

	next.SubjectID = result[1]
	return next, true, nil
}

func (s *RedisStore) Revoke(ctx context.Context, hash string, now time.Time) error {
	if err := revokeLua.Run(ctx, s.client, []string{s.key(hash)}, now.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *RedisStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	// SCAN may yield a key more than once.
	keys := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys[iter.Val()] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("scan refresh tokens: %w", err)
	}

	var stats Stats
	nowMillis := now.UnixMilli()
	for key := range keys {
		fields, err := s.client.HMGet(ctx, key, "expires_at", "revoked_at").Result()
		if err != nil {
			return Stats{}, fmt.Errorf("read refresh token %s: %w", key, err)
		}

		switch {
		case fields[1] != nil:
			stats.Revoked++
		case parseMillis(fields[0]) > nowMillis:
			stats.Active++
		default:
			stats.Expired++
		}
	}

	return stats, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func parseMillis(value any) int64 {
	text, ok := value.(string)
	if !ok {
		return 0
	}
	millis, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0
	}
	return millis
}
