package database

import (
	"afl-sancov/config"
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type RedisParams struct {
	fx.In

	Config *config.AppConfig
	Logger *zap.Logger
}

// NewRedisClient connects with REDIS_URL, or through sentinels when
// REDIS_SENTINEL_HOSTS is set instead. It returns nil when neither is set.
func NewRedisClient(p RedisParams) (*redis.Client, error) {
	sinks := p.Config.Sinks
	var client *redis.Client
	var err error

	switch {
	case sinks.RedisUrl != "":
		client, err = newRedisClient(sinks.RedisUrl)
	case sinks.RedisSentinelHosts != "":
		client, err = newRedisFailoverClient(sinks.RedisSentinelHosts, sinks.RedisMasterName)
	default:
		return nil, nil
	}
	if err != nil {
		p.Logger.Error("Failed to create Redis client", zap.Error(err))
		return nil, err
	}

	p.Logger.Debug("Redis client created successfully")
	return client, nil
}

func newRedisFailoverClient(redisSentinelHostsString, redisMasterName string) (*redis.Client, error) {
	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:    redisMasterName,
		SentinelAddrs: strings.Split(redisSentinelHostsString, ","),
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

func newRedisClient(redisUrl string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisUrl)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return client, nil
}
