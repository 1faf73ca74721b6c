package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aretw0/recall/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

const defaultPrefix = "recall:"

// casScript writes the checkpoint iff the stored version matches ARGV[1].
// KEYS: checkpoint hash, index zset.
// ARGV: expected, new version, data, ttl ms, index score, index member.
var casScript = backend.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
local expected = tonumber(ARGV[1])
if current then
  if tonumber(current) ~= expected then return -1 end
elseif expected ~= 0 then
  return -1
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'data', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[6])
return tonumber(ARGV[2])
`)

// Store implements ports.CheckpointStore and ports.CheckpointLister using Redis.
// Each checkpoint is a hash {version, data}; compare-and-swap runs as a Lua script.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for checkpoints.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
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
		prefix: defaultPrefix,
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Client returns the underlying client, for sharing with the memory store and locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

// encodeKey escapes both parts so that distinct keys never collide.
func encodeKey(k domain.ConversationKey) string {
	return url.PathEscape(k.OwnerID) + "/" + url.PathEscape(k.ThreadID)
}

func decodeKey(member string) (domain.ConversationKey, error) {
	owner, thread, ok := strings.Cut(member, "/")
	if !ok {
		return domain.ConversationKey{}, fmt.Errorf("malformed index member %q", member)
	}
	o, err := url.PathUnescape(owner)
	if err != nil {
		return domain.ConversationKey{}, err
	}
	t, err := url.PathUnescape(thread)
	if err != nil {
		return domain.ConversationKey{}, err
	}
	return domain.ConversationKey{OwnerID: o, ThreadID: t}, nil
}

func (s *Store) key(k domain.ConversationKey) string {
	return s.prefix + "checkpoint:" + encodeKey(k)
}

func (s *Store) indexKey() string {
	return s.prefix + "checkpoint:index"
}

// Load retrieves the checkpoint from Redis.
func (s *Store) Load(ctx context.Context, key domain.ConversationKey) (*domain.Checkpoint, error) {
	val, err := s.client.HGet(ctx, s.key(key), "data").Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// CompareAndSwap stores next iff the stored version equals expectedVersion.
func (s *Store) CompareAndSwap(ctx context.Context, key domain.ConversationKey, expectedVersion int64, next domain.Checkpoint) (*domain.Checkpoint, error) {
	next.Key = key
	next.Version = expectedVersion + 1

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// Score = expiry. If TTL = 0, Score = +Inf (approx).
	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}

	res, err := casScript.Run(ctx, s.client,
		[]string{s.key(key), s.indexKey()},
		expectedVersion, next.Version, data, s.ttl.Milliseconds(), score, encodeKey(key),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("failed to save to redis: %w", err)
	}
	if res < 0 {
		return nil, domain.ErrVersionConflict
	}
	return &next, nil
}

// Delete removes the checkpoint.
func (s *Store) Delete(ctx context.Context, key domain.ConversationKey) error {
	pipe := s.client.TxPipeline()

	pipe.Del(ctx, s.key(key))
	pipe.ZRem(ctx, s.indexKey(), encodeKey(key))

	_, err := pipe.Exec(ctx)
	return err
}

// List returns stored keys of ownerID (all owners when empty), pruning expired entries first.
func (s *Store) List(ctx context.Context, ownerID string) ([]domain.ConversationKey, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired checkpoints: %w", err)
	}

	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	keys := make([]domain.ConversationKey, 0, len(members))
	for _, m := range members {
		k, err := decodeKey(m)
		if err != nil {
			return nil, err
		}
		if ownerID == "" || k.OwnerID == ownerID {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
