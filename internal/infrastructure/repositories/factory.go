package repositories

import (
	"context"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"
	"callnet/internal/infrastructure/repositories/memory"
	redisrepo "callnet/internal/infrastructure/repositories/redis"
	"callnet/internal/infrastructure/reliability"
	"callnet/pkg/circuitbreaker"
	"callnet/pkg/config"
	"callnet/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	cfg         *config.Config
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to memory on failure.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		cfg:      cfg,
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}
	return factory
}

// UsesRedis reports whether the factory is backed by Redis.
func (f *RepositoryFactory) UsesRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// RedisClient returns the shared client, or nil in memory mode.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// CreateCallRepository returns the call store of owner. The Redis store is
// guarded by retry and a circuit breaker.
func (f *RepositoryFactory) CreateCallRepository(owner domain.UserID) ports.CallRepository {
	if !f.UsesRedis() {
		return memory.NewMemoryCallRepository()
	}

	rel := f.cfg.Reliability
	retryConfig := retry.DefaultConfig()
	retryConfig.MaxAttempts = rel.MaxAttempts
	retryConfig.InitialDelay = rel.InitialDelay
	retryConfig.MaxDelay = rel.MaxDelay

	cbConfig := circuitbreaker.DefaultConfig()
	cbConfig.FailureThreshold = rel.FailureThreshold
	cbConfig.Timeout = rel.BreakerTimeout

	return reliability.NewCallRepositoryWrapper(
		redisrepo.NewRedisCallRepository(f.redisClient, owner),
		retryConfig,
		cbConfig,
		f.logger,
	)
}

func (f *RepositoryFactory) CreateFavoriteRepository() ports.FavoriteRepository {
	if f.UsesRedis() {
		return redisrepo.NewRedisFavoriteRepository(f.redisClient)
	}
	return memory.NewMemoryFavoriteRepository()
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck pings Redis when used.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsesRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
