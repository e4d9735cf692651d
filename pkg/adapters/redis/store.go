package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "espalier:session:"

// farFuture is the index score of sessions without TTL (2100-01-01).
const farFuture = 4102444800

// saveScript performs the version check and all writes of Save atomically.
// KEYS: current, version, history, index
// ARGV: version, payload, index score, session id, ttl (ms, 0 = none)
var saveScript = backend.NewScript(`
local current = redis.call("GET", KEYS[2])
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return tonumber(current)
end
redis.call("SET", KEYS[1], ARGV[2])
redis.call("SET", KEYS[2], ARGV[1])
redis.call("RPUSH", KEYS[3], ARGV[2])
redis.call("ZADD", KEYS[4], ARGV[3], ARGV[4])
local ttl = tonumber(ARGV[5])
if ttl > 0 then
	redis.call("PEXPIRE", KEYS[1], ttl)
	redis.call("PEXPIRE", KEYS[2], ttl)
	redis.call("PEXPIRE", KEYS[3], ttl)
end
return -1
`)

// Store implements ports.CheckpointStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for sessions. Every save extends it.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client exposes the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) key(sessionID string) string        { return s.prefix + sessionID }
func (s *Store) versionKey(sessionID string) string { return s.prefix + sessionID + ":version" }
func (s *Store) historyKey(sessionID string) string { return s.prefix + sessionID + ":history" }
func (s *Store) indexKey() string                   { return s.prefix + "index" }

// Save persists the checkpoint and appends it to the session history.
func (s *Store) Save(ctx context.Context, sessionID string, cp *domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = farFuture
	}

	keys := []string{s.key(sessionID), s.versionKey(sessionID), s.historyKey(sessionID), s.indexKey()}
	current, err := saveScript.Run(ctx, s.client, keys,
		cp.Version, data, score, sessionID, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	if current >= 0 {
		return fmt.Errorf("%w: session %s has version %d, got %d",
			domain.ErrStaleCheckpoint, sessionID, current, cp.Version)
	}
	return nil
}

// Load retrieves the newest checkpoint from Redis.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decode(val)
}

// History returns every checkpoint of the session, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error) {
	vals, err := s.client.LRange(ctx, s.historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history from redis: %w", err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	out := make([]*domain.Checkpoint, 0, len(vals))
	for _, val := range vals {
		cp, err := decode(val)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func decode(val string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()

	pipe.Del(ctx, s.key(sessionID), s.versionKey(sessionID), s.historyKey(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)

	_, err := pipe.Exec(ctx)
	return err
}

// List returns stored sessions using the ZSET index with lazy cleanup.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())

	// ZREMRANGEBYSCORE key -inf (now)
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("(%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	sessions, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
