package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/flume/types"
)

// DefaultLockTTL bounds the advisory run lock so a crashed process cannot
// hold an identity forever.
const DefaultLockTTL = 30 * time.Minute

// ErrLockHeld is returned when another process holds the run lock for the
// same configuration identity.
var ErrLockHeld = errors.New("run lock held by another process")

// RedisStore persists run records in Redis and provides the advisory
// per-identity run lock required when multiple processes may target the
// same record. Record key: flume:record:<identity>; lock key:
// flume:lock:<identity>.
type RedisStore struct {
	client  *goredis.Client
	lockTTL time.Duration
}

// RedisConfig configures the Redis record store.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// LockTTL bounds the advisory lock (default 30m).
	LockTTL time.Duration
}

// NewRedisStore creates a Redis-backed record store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis record store requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis record store: invalid URL: %w", err)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &RedisStore{
		client:  goredis.NewClient(opts),
		lockTTL: cfg.LockTTL,
	}, nil
}

func recordKey(identity string) string { return "flume:record:" + identity }
func lockKey(identity string) string   { return "flume:lock:" + identity }

// Read implements RecordStore.
func (s *RedisStore) Read(ctx context.Context, identity string) (*types.RunRecord, error) {
	data, err := s.client.Get(ctx, recordKey(identity)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("redis read record %s: %w", identity, err)
	}
	var record types.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", identity, err)
	}
	return &record, nil
}

// Write implements RecordStore.
func (s *RedisStore) Write(ctx context.Context, identity string, record *types.RunRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.client.Set(ctx, recordKey(identity), data, 0).Err(); err != nil {
		return fmt.Errorf("redis write record %s: %w", identity, err)
	}
	return nil
}

// Clear implements RecordStore.
func (s *RedisStore) Clear(ctx context.Context, identity string) error {
	n, err := s.client.Del(ctx, recordKey(identity)).Result()
	if err != nil {
		return fmt.Errorf("redis clear record %s: %w", identity, err)
	}
	if n == 0 {
		return ErrNoRecord
	}
	return nil
}

// AcquireLock takes the advisory run lock for the identity via SET NX with
// a TTL. Returns ErrLockHeld when another holder exists. The caller
// acquires before the idempotency check and releases after the terminal
// state, closing the check-then-act race on the record.
func (s *RedisStore) AcquireLock(ctx context.Context, identity, holder string) error {
	ok, err := s.client.SetNX(ctx, lockKey(identity), holder, s.lockTTL).Result()
	if err != nil {
		return fmt.Errorf("redis acquire lock %s: %w", identity, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockHeld, identity)
	}
	return nil
}

// ReleaseLock releases the advisory lock if this holder owns it. A lock
// taken over by another holder after TTL expiry is left alone.
func (s *RedisStore) ReleaseLock(ctx context.Context, identity, holder string) error {
	// Check-and-delete in one round trip.
	const script = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`
	if err := s.client.Eval(ctx, script, []string{lockKey(identity)}, holder).Err(); err != nil {
		return fmt.Errorf("redis release lock %s: %w", identity, err)
	}
	return nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Verify RedisStore implements RecordStore.
var _ RecordStore = (*RedisStore)(nil)
