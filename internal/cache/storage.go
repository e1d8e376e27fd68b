package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/travelplan/shellcache/internal/config"
)

// New creates the storage backend selected by the configuration.
// The returned storage still needs to be initialized.
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case config.BackendDisk:
		logrus.Debugf("Using disk storage in %s", cfg.Folder)
		return NewDisk(cfg.Folder), nil
	case config.BackendMemory:
		logrus.Debugf("Using in-memory storage")
		return NewMemory(), nil
	case config.BackendSQLite:
		logrus.Debugf("Using sqlite storage at %s", cfg.SQLitePath)
		return NewSQLite(cfg.SQLitePath), nil
	case config.BackendRedis:
		logrus.Debugf("Using redis storage at %s (db %d)", cfg.Redis.Addr, cfg.Redis.DB)
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedis(client, cfg.Redis.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
