package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "callnet:"

// RedisCallRepository stores the call records of one owner. Both parties of a call
// keep their own record under the same call id, so keys are scoped by owner.
type RedisCallRepository struct {
	client *redis.Client
	owner  domain.UserID
}

func NewRedisCallRepository(client *redis.Client, owner domain.UserID) ports.CallRepository {
	return &RedisCallRepository{client: client, owner: owner}
}

func callKey(owner domain.UserID, id domain.CallID) string {
	return keyPrefix + string(owner) + ":call:" + string(id)
}

// ownerCallsKey is a sorted set of call ids scored by creation time.
func ownerCallsKey(owner domain.UserID) string {
	return keyPrefix + string(owner) + ":calls"
}

func (r *RedisCallRepository) Create(ctx context.Context, call *domain.Call) error {
	if err := call.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to marshal call: %w", err)
	}

	created, err := r.client.SetNX(ctx, callKey(r.owner, call.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store call in Redis: %w", err)
	}
	if !created {
		return domain.ErrCallExists
	}

	score := float64(call.Timestamp.UnixNano())
	err = r.client.ZAdd(ctx, ownerCallsKey(r.owner), redis.Z{Score: score, Member: string(call.ID)}).Err()
	if err != nil {
		return fmt.Errorf("failed to index call: %w", err)
	}
	return nil
}

func (r *RedisCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	return getCall(ctx, r.client, callKey(r.owner, id))
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getCall(ctx context.Context, c getter, key string) (*domain.Call, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call from Redis: %w", err)
	}

	var call domain.Call
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call: %w", err)
	}
	return &call, nil
}

// UpdateFields performs an optimistic read-modify-write on the call document.
func (r *RedisCallRepository) UpdateFields(ctx context.Context, id domain.CallID, fields map[string]interface{}) error {
	key := callKey(r.owner, id)
	const maxRetries = 5

	for i := 0; i < maxRetries; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			call, err := getCall(ctx, tx, key)
			if err != nil {
				return err
			}
			updated, err := domain.ApplyFields(call, fields)
			if err != nil {
				return err
			}
			data, err := json.Marshal(updated)
			if err != nil {
				return fmt.Errorf("failed to marshal call: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update call %s: too much contention", id)
}

func (r *RedisCallRepository) Delete(ctx context.Context, id domain.CallID) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, ownerCallsKey(r.owner), string(id))
		pipe.Del(ctx, callKey(r.owner, id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete call from Redis: %w", err)
	}
	return nil
}

// ListByUser reads the owner's index. For any other user it returns the owner's calls with that user.
func (r *RedisCallRepository) ListByUser(ctx context.Context, user domain.UserID, limit int) ([]*domain.Call, error) {
	stop := int64(-1)
	if limit > 0 && user == r.owner {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(ctx, ownerCallsKey(r.owner), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list calls from Redis: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = callKey(r.owner, domain.CallID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load calls from Redis: %w", err)
	}

	calls := make([]*domain.Call, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// index entry without document
			continue
		}
		var call domain.Call
		if err := json.Unmarshal([]byte(s), &call); err != nil {
			return nil, fmt.Errorf("failed to unmarshal call: %w", err)
		}
		if !call.Involves(user) {
			continue
		}
		calls = append(calls, &call)
		if limit > 0 && len(calls) == limit {
			break
		}
	}
	return calls, nil
}
