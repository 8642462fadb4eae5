package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const (
	pendingKeyPrefix    = "pending:"
	correctionKeyPrefix = "correction:"
	lockKeyPrefix       = "lock:"

	defaultLockTTL    = 10 * time.Second
	lockRetryInterval = 20 * time.Millisecond
	releaseTimeout    = time.Second
)

var deleteCorrectionIfScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return 0
end

local state = cjson.decode(raw)
if state.id == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end

return 0
`)

var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end

return 0
`)

// RedisAdapter keeps dialog state and per-key locks in Redis so several
// service replicas share them.
type RedisAdapter struct {
	client  *redis.Client
	ttl     StateTTL
	lockTTL time.Duration
	now     func() time.Time
}

func NewRedisAdapter(client *redis.Client, ttl StateTTL) *RedisAdapter {
	return &RedisAdapter{client: client, ttl: ttl, lockTTL: defaultLockTTL, now: time.Now}
}

func (r *RedisAdapter) PutPending(ctx context.Context, pending domain.PendingConfirmation) error {
	raw, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encode pending: %w", err)
	}
	if err := r.client.Set(ctx, pendingKeyPrefix+pending.ActorID, raw, r.ttl.Pending).Err(); err != nil {
		return fmt.Errorf("put pending: %w", err)
	}
	return nil
}

func (r *RedisAdapter) TakePending(ctx context.Context, actorID string) (*domain.PendingConfirmation, error) {
	raw, err := r.client.GetDel(ctx, pendingKeyPrefix+actorID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take pending: %w", err)
	}

	var p domain.PendingConfirmation
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode pending: %w", err)
	}
	if p.Expired(r.now(), r.ttl.Pending) {
		return nil, nil
	}
	return &p, nil
}

func (r *RedisAdapter) PutCorrection(ctx context.Context, state domain.CorrectionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode correction: %w", err)
	}
	if err := r.client.Set(ctx, correctionKeyPrefix+state.ActorID, raw, r.ttl.Correction).Err(); err != nil {
		return fmt.Errorf("put correction: %w", err)
	}
	return nil
}

func (r *RedisAdapter) GetCorrection(ctx context.Context, actorID string) (*domain.CorrectionState, error) {
	raw, err := r.client.Get(ctx, correctionKeyPrefix+actorID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get correction: %w", err)
	}

	var c domain.CorrectionState
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode correction: %w", err)
	}
	if c.Expired(r.now(), r.ttl.Correction) {
		return nil, nil
	}
	return &c, nil
}

func (r *RedisAdapter) DeleteCorrectionIf(ctx context.Context, actorID, stateID string) (bool, error) {
	n, err := deleteCorrectionIfScript.Run(ctx, r.client, []string{correctionKeyPrefix + actorID}, stateID).Int()
	if err != nil {
		return false, fmt.Errorf("delete correction: %w", err)
	}
	return n == 1, nil
}

// Lock acquires key with SET NX PX, polling until it is free or ctx is done.
// The lock expires on its own if the holder dies.
func (r *RedisAdapter) Lock(ctx context.Context, key string) (func(), error) {
	k := lockKeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		releaseLockScript.Run(rctx, r.client, []string{k}, token)
	}, nil
}
