package reliability

import (
	"context"
	"errors"
	"time"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"
	"callnet/pkg/circuitbreaker"
	"callnet/pkg/retry"

	"go.uber.org/zap"
)

// errors that describe the request, not the health of the store
var domainErrors = []error{
	domain.ErrCallNotFound,
	domain.ErrCallExists,
	domain.ErrInvalidCall,
}

// CallRepositoryWrapper wraps a CallRepository with retry logic and a circuit breaker.
type CallRepositoryWrapper struct {
	repo   ports.CallRepository
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

func NewCallRepositoryWrapper(
	repo ports.CallRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *CallRepositoryWrapper {
	retryConfig.NonRetryableErrors = append(append([]error{circuitbreaker.ErrOpen}, domainErrors...),
		retryConfig.NonRetryableErrors...)
	if retryConfig.OnRetry == nil {
		retryConfig.OnRetry = func(attempt int, delay time.Duration, err error) {
			logger.Warnw("retrying call store operation",
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}
	}

	wrapper := &CallRepositoryWrapper{
		repo:           repo,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("call store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

// BreakerState reports the store breaker state for health checks.
func (w *CallRepositoryWrapper) BreakerState() circuitbreaker.State {
	return w.circuitBreaker.GetState()
}

func (w *CallRepositoryWrapper) Create(ctx context.Context, call *domain.Call) error {
	return w.do(ctx, func() error { return w.repo.Create(ctx, call) })
}

func (w *CallRepositoryWrapper) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	return guarded(ctx, w, func() (*domain.Call, error) { return w.repo.GetByID(ctx, id) })
}

func (w *CallRepositoryWrapper) UpdateFields(ctx context.Context, id domain.CallID, fields map[string]interface{}) error {
	return w.do(ctx, func() error { return w.repo.UpdateFields(ctx, id, fields) })
}

func (w *CallRepositoryWrapper) Delete(ctx context.Context, id domain.CallID) error {
	return w.do(ctx, func() error { return w.repo.Delete(ctx, id) })
}

func (w *CallRepositoryWrapper) ListByUser(ctx context.Context, user domain.UserID, limit int) ([]*domain.Call, error) {
	return guarded(ctx, w, func() ([]*domain.Call, error) { return w.repo.ListByUser(ctx, user, limit) })
}

func (w *CallRepositoryWrapper) do(ctx context.Context, fn func() error) error {
	_, err := guarded(ctx, w, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// guarded runs fn through the breaker and the retry policy. Domain errors pass
// straight through without counting against the store.
func guarded[T any](ctx context.Context, w *CallRepositoryWrapper, fn func() (T, error)) (T, error) {
	attempt := func() (T, error) {
		var domainErr error
		result, err := circuitbreaker.Do(ctx, w.circuitBreaker, func() (T, error) {
			v, err := fn()
			if isDomainError(err) {
				domainErr = err
				return v, nil
			}
			return v, err
		})
		if err != nil {
			return result, err
		}
		if domainErr != nil {
			var zero T
			return zero, domainErr
		}
		return result, nil
	}

	if !w.retryConfig.Enabled {
		return attempt()
	}
	return retry.RetryWithResult(ctx, w.retryConfig, attempt)
}

func isDomainError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
