package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callnet/internal/core/domain"
	"callnet/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrAgentRunning is returned by Register when another agent already serves the user.
	ErrAgentRunning  = errors.New("another agent is running for this user")
	ErrAgentNotFound = errors.New("agent not found")
)

const (
	agentPrefix     = "callnet:agent:"
	agentLockPrefix = "callnet:lock:"
	defaultAgentTTL = 30 * time.Second
)

// AgentRecord describes the running agent of one user.
type AgentRecord struct {
	UserID       domain.UserID `json:"user_id"`
	InstanceID   string        `json:"instance_id"`
	APIAddress   string        `json:"api_address"`
	RegisteredAt time.Time     `json:"registered_at"`
}

// AgentRegistry makes sure a user has at most one agent answering calls and
// publishes where that agent can be reached.
type AgentRegistry struct {
	client      *redis.Client
	lockManager *distributed.LockManager
	instanceID  string
	ttl         time.Duration
	logger      *zap.SugaredLogger

	lock   *distributed.DistributedLock
	record AgentRecord
	stop   chan struct{}
	done   chan struct{}
}

func NewAgentRegistry(client *redis.Client, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *AgentRegistry {
	if ttl <= 0 {
		ttl = defaultAgentTTL
	}
	return &AgentRegistry{
		client:      client,
		lockManager: distributed.NewLockManager(client, agentLockPrefix),
		instanceID:  instanceID,
		ttl:         ttl,
		logger:      logger,
	}
}

// Register takes the user's agent lease and publishes the record. The record is
// refreshed until Unregister.
func (r *AgentRegistry) Register(ctx context.Context, user domain.UserID, apiAddress string) error {
	if r.lock != nil {
		return fmt.Errorf("agent already registered for %s", r.record.UserID)
	}

	lock := r.lockManager.AcquireLock(agentLockKey(user), r.ttl)
	acquired, err := lock.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire agent lease: %w", err)
	}
	if !acquired {
		return ErrAgentRunning
	}

	record := AgentRecord{
		UserID:       user,
		InstanceID:   r.instanceID,
		APIAddress:   apiAddress,
		RegisteredAt: time.Now().UTC(),
	}
	if err := r.write(ctx, record); err != nil {
		_ = lock.Unlock(ctx)
		return err
	}

	r.lock = lock
	r.record = record
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.refresh()

	r.logger.Infow("agent registered", "user_id", user, "instance_id", r.instanceID)
	return nil
}

// Lost is closed if the lease is taken over, for example after a long network partition.
func (r *AgentRegistry) Lost() <-chan struct{} {
	if r.lock == nil {
		return nil
	}
	return r.lock.Lost()
}

// Lookup returns the agent record of user.
func (r *AgentRegistry) Lookup(ctx context.Context, user domain.UserID) (*AgentRecord, error) {
	data, err := r.client.Get(ctx, agentKey(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent record: %w", err)
	}

	var record AgentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent record: %w", err)
	}
	return &record, nil
}

// Unregister removes the record and releases the lease.
func (r *AgentRegistry) Unregister(ctx context.Context) error {
	if r.lock == nil {
		return nil
	}
	close(r.stop)
	<-r.done

	user := r.record.UserID
	if err := r.client.Del(ctx, agentKey(user)).Err(); err != nil {
		r.logger.Warnw("failed to delete agent record", "user_id", user, "error", err)
	}
	err := r.lock.Unlock(ctx)
	r.lock = nil
	if err != nil && !errors.Is(err, distributed.ErrNotHeld) {
		return fmt.Errorf("failed to release agent lease: %w", err)
	}
	return nil
}

func (r *AgentRegistry) write(ctx context.Context, record AgentRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal agent record: %w", err)
	}
	if err := r.client.Set(ctx, agentKey(record.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register agent: %w", err)
	}
	return nil
}

func (r *AgentRegistry) refresh() {
	defer close(r.done)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-r.lock.Lost():
			r.logger.Errorw("agent lease lost", "user_id", r.record.UserID)
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			if err := r.write(ctx, r.record); err != nil {
				r.logger.Warnw("failed to refresh agent record", "user_id", r.record.UserID, "error", err)
			}
			cancel()
		}
	}
}

func agentKey(user domain.UserID) string {
	return agentPrefix + string(user)
}

func agentLockKey(user domain.UserID) string {
	return "agent:" + string(user)
}
