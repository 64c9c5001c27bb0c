package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adfharrison1/go-odm/pkg/config"
	"github.com/adfharrison1/go-odm/pkg/domain"
)

// Open builds the backend named by cfg.Store, wrapped in a circuit
// breaker when cfg.Breaker is set.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (domain.KVStore, error) {
	var (
		kv  domain.KVStore
		err error
	)
	switch cfg.Store {
	case config.StoreMemory:
		options := []MemoryOption{}
		if cfg.SnapshotFile != "" {
			options = append(options, WithSnapshotFile(cfg.SnapshotFile), WithBackgroundSave(cfg.SnapshotInterval))
		}
		kv, err = NewMemoryStore(options...)
	case config.StorePebble:
		kv, err = OpenPebble(cfg.PebbleDir)
	case config.StoreSQLite:
		kv, err = OpenSQLite(cfg.SQLitePath)
	case config.StoreRedis:
		client, cerr := NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		if cerr != nil {
			return nil, cerr
		}
		kv = NewRedisStore(client, cfg.KeyPrefix)
	case config.StoreMongo:
		client, cerr := ConnectMongo(ctx, cfg.MongoURI)
		if cerr != nil {
			return nil, cerr
		}
		kv = NewMongoStore(client, cfg.MongoDB, cfg.MongoCollection)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
	if err != nil {
		return nil, err
	}

	log.Info("store opened", "store", cfg.Store, "breaker", cfg.Breaker)
	if cfg.Breaker {
		kv = NewBreakerStore(kv, log)
	}
	return kv, nil
}
