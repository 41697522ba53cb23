package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints in Redis, one key per workflow.
// Optimistic concurrency uses WATCH on the checkpoint key so concurrent
// writers at the same revision cannot both commit.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed checkpoint store.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "coursecraft:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "checkpoint:"}
}

func (s *RedisStore) key(workflowID string) string {
	return s.keyPrefix + workflowID
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, env *Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal envelope: %w", err)
	}
	key := s.key(env.WorkflowID)

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if env.Revision != 1 {
				return errStale(env.WorkflowID, env.Revision)
			}
		case err != nil:
			return fmt.Errorf("checkpoint: read current revision: %w", err)
		default:
			var stored Envelope
			if err := json.Unmarshal(current, &stored); err != nil {
				return fmt.Errorf("checkpoint: decode stored envelope: %w", err)
			}
			if env.Revision != stored.Revision+1 {
				return errStale(env.WorkflowID, env.Revision)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// A concurrent writer committed between WATCH and EXEC.
		return errStale(env.WorkflowID, env.Revision)
	}
	return err
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, workflowID string) (*Envelope, bool, error) {
	raw, err := s.client.Get(ctx, s.key(workflowID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: load %s: %w", workflowID, err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("checkpoint: decode envelope: %w", err)
	}
	return &env, true, nil
}
