package repositories

import (
	"context"
	"testing"

	"callnet/internal/infrastructure/repositories/memory"
	"callnet/pkg/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRepositoryFactory_MemoryMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false

	f := NewRepositoryFactory(cfg, zap.NewNop().Sugar())
	assert.False(t, f.UsesRedis())
	assert.Nil(t, f.RedisClient())
	assert.IsType(t, &memory.MemoryCallRepository{}, f.CreateCallRepository("alice"))
	assert.IsType(t, &memory.MemoryFavoriteRepository{}, f.CreateFavoriteRepository())
	assert.NoError(t, f.HealthCheck(context.Background()))
	assert.NoError(t, f.Close())
}

func TestRepositoryFactory_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(cfg, zap.NewNop().Sugar())
	assert.False(t, f.UsesRedis())
	assert.IsType(t, &memory.MemoryCallRepository{}, f.CreateCallRepository("alice"))
}
