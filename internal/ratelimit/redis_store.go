package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-appkit/log"
)

// reservationScript counts the members of the running-jobs set, compares the
// count with the limit, and inserts the member only when under it. Redis runs
// scripts serially with respect to other commands on the same key, which is
// what makes check-and-reserve race-free across replicas.
//
// KEYS[1] = running-jobs set
// ARGV[1] = concurrency limit
// ARGV[2] = job id
//
// Returns 1 when the slot was reserved, 0 when the limit is reached.
var reservationScript = redis.NewScript(`
local current = redis.call("SCARD", KEYS[1])
if current >= tonumber(ARGV[1]) then
    return 0
end
redis.call("SADD", KEYS[1], ARGV[2])
return 1
`)

// expiredEventPattern matches keyspace notifications for expired keys in any
// database. Requires notify-keyspace-events to include "Ex" on the server.
const expiredEventPattern = "__keyevent@*__:expired"

// RedisStore implements Store on top of a Redis client.
// Every call runs under its own timeout so a slow store cannot stall a
// request-handling goroutine beyond callTimeout.
type RedisStore struct {
	client      redis.UniversalClient
	callTimeout time.Duration
	logger      log.FieldLogger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Store backed by the given Redis client.
func NewRedisStore(client redis.UniversalClient, callTimeout time.Duration, logger log.FieldLogger) *RedisStore {
	if callTimeout <= 0 {
		callTimeout = time.Second
	}
	return &RedisStore{client: client, callTimeout: callTimeout, logger: logger}
}

// EnableExpiryNotifications turns on keyspace expiry events on the server.
// Managed Redis offerings commonly forbid CONFIG SET; the error is returned
// so the caller can log it and rely on the sweeper instead.
func (s *RedisStore) EnableExpiryNotifications(ctx context.Context) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		return fmt.Errorf("enable keyspace expiry notifications: %w", err)
	}
	return nil
}

func (s *RedisStore) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout)
}

// SetWithTTL implements Store.
func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Exists implements Store.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %q: %w", key, err)
	}
	return n > 0, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %q: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return val, true, nil
}

// TTLSeconds implements Store.
func (s *RedisStore) TTLSeconds(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl %q: %w", key, err)
	}
	// Redis reports -2 for a missing key and -1 for a key without expiry.
	if d < 0 {
		return 0, nil
	}
	return int64(d / time.Second), nil
}

// SetAdd implements Store.
func (s *RedisStore) SetAdd(ctx context.Context, key, member string) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.client.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("sadd %q: %w", key, err)
	}
	return nil
}

// SetRemove implements Store.
func (s *RedisStore) SetRemove(ctx context.Context, key, member string) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("srem %q: %w", key, err)
	}
	return nil
}

// SetCardinality implements Store.
func (s *RedisStore) SetCardinality(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("scard %q: %w", key, err)
	}
	return n, nil
}

// SetMembers implements Store.
func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %q: %w", key, err)
	}
	return members, nil
}

// ScanKeys implements Store. The scan may take several round trips, so it
// runs under one call timeout per SCAN page.
func (s *RedisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		page, next, err := s.scanPage(ctx, cursor, pattern)
		if err != nil {
			return nil, err
		}
		keys = append(keys, page...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (s *RedisStore) scanPage(ctx context.Context, cursor uint64, pattern string) ([]string, uint64, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	page, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("scan %q: %w", pattern, err)
	}
	return page, next, nil
}

// RunReservationScript implements Store.
func (s *RedisStore) RunReservationScript(ctx context.Context, setKey string, limit int, member string) (bool, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	res, err := reservationScript.Run(ctx, s.client, []string{setKey}, strconv.Itoa(limit), member).Int64()
	if err != nil {
		return false, fmt.Errorf("reservation script on %q: %w", setKey, err)
	}
	return res == 1, nil
}

// SubscribeKeyExpiry implements Store. It blocks until the context is
// canceled, feeding expired key names with the given prefix to the handler.
func (s *RedisStore) SubscribeKeyExpiry(ctx context.Context, prefix string, handler func(key string)) error {
	pubsub := s.client.PSubscribe(ctx, expiredEventPattern)
	defer func() {
		if err := pubsub.Close(); err != nil {
			s.logger.Error("close expiry subscription", log.Error(err))
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("expiry subscription channel closed")
			}
			// Payload of an expired event is the key name itself.
			if len(msg.Payload) < len(prefix) || msg.Payload[:len(prefix)] != prefix {
				continue
			}
			handler(msg.Payload)
		}
	}
}
