package db

import (
	"context"
	"fmt"
	"secure-ledger/config"
	"secure-ledger/logger"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ConnectRedis opens the client behind the redis audit sink and checks the
// server answers before any record is appended.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		logger.Log.WithError(err).WithField("address", cfg.Addr()).Error("Audit stream unreachable")
		return nil, fmt.Errorf("audit stream %s unreachable: %w", cfg.Addr(), err)
	}

	logger.Log.WithFields(logrus.Fields{
		"address": cfg.Addr(),
		"stream":  cfg.Stream,
	}).Info("Audit stream connected")
	return rdb, nil
}
