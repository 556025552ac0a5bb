package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key layout and limits.
const (
	redisKeyPrefix     = "flowdesk:"
	redisReceiptsKey   = redisKeyPrefix + "receipts"
	redisMaxReceipts   = 1000
	redisDedupTTL      = 24 * time.Hour
	redisLockRetryWait = 20 * time.Millisecond
)

// DefaultLockLease is the Redis lock lease when none is configured.
const DefaultLockLease = 30 * time.Second

// releaseScript deletes a lock only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends a lock only while it still holds the caller's token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// RedisStore keeps sessions in Redis with native key expiry. Locks are
// SET NX leases, so several processes can share one Redis.
type RedisStore struct {
	client      *redis.Client
	ttl         time.Duration
	lockTimeout time.Duration
	lockLease   time.Duration
}

type redisSession struct {
	UserID      string          `json:"user_id"`
	Flow        models.FlowType `json:"flow"`
	Step        int             `json:"step"`
	LastUpdated time.Time       `json:"last_updated"`
	sessionData
}

// NewRedisStore connects to Redis using the URL or address options.
func NewRedisStore(ctx context.Context, opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	var ropts *redis.Options
	switch {
	case cfg.RedisURL != "":
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		ropts = parsed
	case cfg.RedisAddr != "":
		ropts = &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	default:
		return nil, fmt.Errorf("redis address not set")
	}
	slog.Debug("RedisStore.NewRedisStore: connecting", "addr", ropts.Addr, "db", ropts.DB)

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err, "addr", ropts.Addr)
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreWithClient(client, opts...), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, opts ...Option) *RedisStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.LockLease <= 0 {
		cfg.LockLease = DefaultLockLease
	}
	return &RedisStore{client: client, ttl: cfg.SessionTTL, lockTimeout: cfg.LockTimeout, lockLease: cfg.LockLease}
}

func sessionKey(userID string) string { return redisKeyPrefix + "session:" + userID }
func lockKey(key string) string        { return redisKeyPrefix + "lock:" + key }
func dedupKey(messageID string) string { return redisKeyPrefix + "dedup:" + messageID }

func (s *RedisStore) GetSession(ctx context.Context, userID string) (models.Session, bool, error) {
	b, err := s.client.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Session{}, false, nil
	}
	if err != nil {
		slog.Error("RedisStore GetSession failed", "error", err, "userID", userID)
		return models.Session{}, false, fmt.Errorf("get session %s: %w", userID, err)
	}
	var rs redisSession
	if err := json.Unmarshal(b, &rs); err != nil {
		return models.Session{}, false, fmt.Errorf("decode session %s: %w", userID, err)
	}
	return models.Session{
		UserID:          rs.UserID,
		Flow:            rs.Flow,
		Step:            rs.Step,
		CollectedFields: rs.CollectedFields,
		AIHistory:       rs.AIHistory,
		LastUpdated:     rs.LastUpdated,
	}, true, nil
}

// SaveSession writes the session and refreshes its expiry.
func (s *RedisStore) SaveSession(ctx context.Context, sess models.Session) error {
	b, err := json.Marshal(redisSession{
		UserID:      sess.UserID,
		Flow:        sess.Flow,
		Step:        sess.Step,
		LastUpdated: sess.LastUpdated,
		sessionData: sessionData{CollectedFields: sess.CollectedFields, AIHistory: sess.AIHistory},
	})
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.UserID, err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.UserID), b, s.ttl).Err(); err != nil {
		slog.Error("RedisStore SaveSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("save session %s: %w", sess.UserID, err)
	}
	return nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", userID, err)
	}
	return nil
}

// DeleteExpiredSessions is a no-op; Redis expires session keys itself.
func (s *RedisStore) DeleteExpiredSessions(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Lock polls SET NX until the lease is taken or the context ends. While held,
// the lease is renewed every third of its length; it expires on its own only
// if the holder dies.
func (s *RedisStore) Lock(ctx context.Context, key string) (func(), error) {
	waitCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	k := lockKey(key)
	token := uuid.NewString()
	ticker := time.NewTicker(redisLockRetryWait)
	defer ticker.Stop()
	for {
		ok, err := s.client.SetNX(waitCtx, k, token, s.lockLease).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: key %s: %v", ErrLockTimeout, key, waitCtx.Err())
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go s.renew(k, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := releaseScript.Run(context.Background(), s.client, []string{k}, token).Err(); err != nil {
				slog.Error("RedisStore.Lock: release failed", "error", err, "key", key)
			}
		})
	}, nil
}

// renew keeps the lease alive until stop is closed or the lease is lost.
func (s *RedisStore) renew(k, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := max(s.lockLease/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := renewScript.Run(ctx, s.client, []string{k}, token, s.lockLease.Milliseconds()).Int()
			cancel()
			if err != nil {
				slog.Warn("RedisStore.renew: lease renewal failed", "error", err, "key", k)
				continue
			}
			if n == 0 {
				slog.Error("RedisStore.renew: lease lost", "key", k)
				return
			}
		}
	}
}

func (s *RedisStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, dedupKey(messageID), userID, redisDedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return ok, nil
}

// MarkProcessed is a no-op; the dedup key alone marks the message as seen.
func (s *RedisStore) MarkProcessed(context.Context, string) error {
	return nil
}

func (s *RedisStore) ReleaseInbound(ctx context.Context, messageID string) error {
	if err := s.client.Del(ctx, dedupKey(messageID)).Err(); err != nil {
		return fmt.Errorf("release inbound failed: %w", err)
	}
	return nil
}

// PruneInbound is a no-op; dedup keys carry their own expiry.
func (s *RedisStore) PruneInbound(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// AddReceipt appends a receipt, keeping only the most recent ones.
func (s *RedisStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, redisReceiptsKey, b)
	pipe.LTrim(ctx, redisReceiptsKey, -redisMaxReceipts, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *RedisStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	vals, err := s.client.LRange(ctx, redisReceiptsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	receipts := make([]models.Receipt, 0, len(vals))
	for _, v := range vals {
		var r models.Receipt
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("failed to decode receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
