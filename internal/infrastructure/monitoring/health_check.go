package monitoring

import (
	"context"
	"sync"
	"time"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) (bool, error)
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make([]HealthCheck, 0),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for _, check := range h.checks {
		healthy, err := runCheck(ctx, check)
		switch {
		case err != nil:
			status.Status = "unhealthy"
			status.Checks[check.Name] = err.Error()
		case !healthy:
			status.Status = "unhealthy"
			status.Checks[check.Name] = "check failed"
		default:
			status.Checks[check.Name] = "healthy"
		}
	}

	return status
}

func runCheck(ctx context.Context, check HealthCheck) (bool, error) {
	if check.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, check.Timeout)
		defer cancel()
	}
	return check.Check(ctx)
}
