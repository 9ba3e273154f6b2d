package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/diaflow/diaflow/domain"
)

// appendScript admits an event only when its sequence strictly advances the
// execution's log. Sequence check and push happen atomically.
var appendScript = redis.NewScript(`
local last = tonumber(redis.call('GET', KEYS[1]) or '0')
local seq = tonumber(ARGV[1])
if seq <= last then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('RPUSH', KEYS[2], ARGV[2])
return 1
`)

// RedisStore keeps event logs and state snapshots in Redis so a daemon
// restart does not lose in-flight executions
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger Logger
}

// RedisStoreOpts configures the redis-backed store
type RedisStoreOpts struct {
	Client *redis.Client
	TTL    time.Duration // 0 keeps executions until deleted
	Logger Logger
}

// NewRedisStore creates the redis-backed store
func NewRedisStore(opts *RedisStoreOpts) *RedisStore {
	return &RedisStore{
		client: opts.Client,
		ttl:    opts.TTL,
		logger: opts.Logger,
	}
}

func seqKey(id domain.ExecutionID) string {
	return "diaflow:exec:" + string(id) + ":seq"
}

func eventsKey(id domain.ExecutionID) string {
	return "diaflow:exec:" + string(id) + ":events"
}

func stateKey(id domain.ExecutionID) string {
	return "diaflow:exec:" + string(id) + ":state"
}

// Append adds an event, rejecting stale or duplicate sequences
func (s *RedisStore) Append(ctx context.Context, event *domain.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	keys := []string{seqKey(event.ExecutionID), eventsKey(event.ExecutionID)}
	admitted, err := appendScript.Run(ctx, s.client, keys,
		strconv.FormatInt(event.Sequence, 10), string(raw)).Int()
	if err != nil {
		s.logger.Error("redis append failed",
			"execution_id", event.ExecutionID,
			"sequence", event.Sequence,
			"error", err)
		return fmt.Errorf("append event: %w", err)
	}
	if admitted == 0 {
		return fmt.Errorf("%w: sequence %d", ErrSequenceConflict, event.Sequence)
	}

	if s.ttl > 0 {
		pipe := s.client.Pipeline()
		for _, key := range keys {
			pipe.Expire(ctx, key, s.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Warn("failed to refresh ttl", "execution_id", event.ExecutionID, "error", err)
		}
	}
	return nil
}

// Events returns events with sequence greater than afterSeq
func (s *RedisStore) Events(ctx context.Context, executionID domain.ExecutionID, afterSeq int64) ([]*domain.Event, error) {
	raw, err := s.client.LRange(ctx, eventsKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}

	var out []*domain.Event
	for _, item := range raw {
		var ev domain.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if ev.Sequence > afterSeq {
			out = append(out, &ev)
		}
	}
	return out, nil
}

// SaveState stores the latest state snapshot
func (s *RedisStore) SaveState(ctx context.Context, state *domain.ExecutionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.client.Set(ctx, stateKey(state.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// State returns the latest state snapshot
func (s *RedisStore) State(ctx context.Context, executionID domain.ExecutionID) (*domain.ExecutionState, error) {
	raw, err := s.client.Get(ctx, stateKey(executionID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var state domain.ExecutionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

// Delete removes an execution's log and snapshot
func (s *RedisStore) Delete(ctx context.Context, executionID domain.ExecutionID) error {
	return s.client.Del(ctx, seqKey(executionID), eventsKey(executionID), stateKey(executionID)).Err()
}
