package counter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	dErrors "aura/pkg/domain-errors"
)

// RedisCounterStore is the production CounterStore. Window admission runs as
// a Lua script so concurrent requests on the same key can never lose an
// increment or over-admit past the check the script performed.
type RedisCounterStore struct {
	client redis.UniversalClient
}

// NewRedis constructs a Redis-backed counter store. The client lifecycle is
// managed by the caller.
func NewRedis(client redis.UniversalClient) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// allowWindowScript admits and increments in one atomic step. The counter
// only moves for admitted requests, so a window's count never exceeds what
// real traffic produced. TTL is set when the key is created; rollover happens
// by key change, not by reset.
var allowWindowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
	return {0, current}
end
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, count}
`)

func (s *RedisCounterStore) AllowWindow(ctx context.Context, key string, limit int, ttl time.Duration) (bool, int64, error) {
	res, err := allowWindowScript.Run(ctx, s.client, []string{key}, limit, ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, wrapRedisErr(err, "window admission failed")
	}
	items, ok := res.([]any)
	if !ok || len(items) != 2 {
		return false, 0, dErrors.New(dErrors.CodeInternal, "unexpected window script reply")
	}
	allowed, _ := items[0].(int64)
	count, _ := items[1].(int64)
	return allowed == 1, count, nil
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapRedisErr(err, "get failed")
	}
	return value, true, nil
}

func (s *RedisCounterStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapRedisErr(err, "set failed")
	}
	return nil
}

func (s *RedisCounterStore) Delete(ctx context.Context, key string) (bool, error) {
	deleted, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, wrapRedisErr(err, "delete failed")
	}
	return deleted > 0, nil
}

func (s *RedisCounterStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrapRedisErr(err, "scan failed")
	}
	return keys, nil
}

func (s *RedisCounterStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrapRedisErr(err, "ping failed")
	}
	return nil
}

func wrapRedisErr(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, message)
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, message)
}
