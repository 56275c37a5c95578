package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"callnet/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = keyPrefix + "schema:version"
	currentSchemaVersion = 2
)

// Migration is one schema step.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, client *redis.Client) error
}

// Migrate runs all pending migrations
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Infow("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration",
				"version", migration.Version,
				"description", migration.Description,
			)
		}

		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, migration.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "initial call schema",
			Up: func(ctx context.Context, client *redis.Client) error {
				return nil
			},
		},
		{
			Version:     2,
			Description: "rebuild per-owner call index",
			Up:          rebuildUserIndex,
		},
	}
}

// rebuildUserIndex re-adds every stored call to its owner's sorted set.
func rebuildUserIndex(ctx context.Context, client *redis.Client) error {
	iter := client.Scan(ctx, 0, keyPrefix+"*:call:*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		owner, ok := ownerFromKey(key)
		if !ok {
			continue
		}
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		var call domain.Call
		if err := json.Unmarshal(data, &call); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		score := float64(call.Timestamp.UnixNano())
		if err := client.ZAdd(ctx, ownerCallsKey(owner), redis.Z{Score: score, Member: string(call.ID)}).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// ownerFromKey extracts the owner from "callnet:<owner>:call:<id>".
func ownerFromKey(key string) (domain.UserID, bool) {
	rest := strings.TrimPrefix(key, keyPrefix)
	i := strings.Index(rest, ":call:")
	if i <= 0 || rest == key {
		return "", false
	}
	return domain.UserID(rest[:i]), true
}
