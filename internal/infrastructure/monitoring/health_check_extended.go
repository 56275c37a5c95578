package monitoring

import (
	"context"
	"fmt"
	"time"

	"callnet/internal/core/ports"
	"callnet/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRepositoryCheck verifies the call store answers a lookup.
func (h *HealthChecker) AddRepositoryCheck(repo ports.CallRepository, interval, timeout time.Duration) {
	h.AddCheck("call_store", func(ctx context.Context) (bool, error) {
		if _, err := repo.ListByUser(ctx, "healthcheck", 1); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddBreakerCheck fails while the breaker guarding the call store is open.
func (h *HealthChecker) AddBreakerCheck(state func() circuitbreaker.State, interval, timeout time.Duration) {
	h.AddCheck("call_store_breaker", func(ctx context.Context) (bool, error) {
		if s := state(); s == circuitbreaker.StateOpen {
			return false, fmt.Errorf("circuit breaker %s", s)
		}
		return true, nil
	}, interval, timeout)
}

// AddSignalingCheck fails while required reports true and no signaling connection is open.
func (h *HealthChecker) AddSignalingCheck(connected func() bool, required func() bool, interval, timeout time.Duration) {
	h.AddCheck("signaling", func(ctx context.Context) (bool, error) {
		if required() && !connected() {
			return false, nil
		}
		return true, nil
	}, interval, timeout)
}

// GetReadinessStatus returns readiness status for load balancer
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.CheckAll(ctx)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	status := h.CheckAll(ctx)
	return status.Status == "healthy"
}
