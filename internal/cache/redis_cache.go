package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// setIfStoreExists writes a hash field only while the store is registered
var setIfStoreExists = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
  return redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
end
return -1
`)

// RedisStorage keeps each store in a hash, plus a set of store names
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *RedisStorage {
	return &RedisStorage{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisStorage) namesKey() string {
	return r.prefix + ":stores"
}

func (r *RedisStorage) storeKey(name string) string {
	return r.prefix + ":store:" + name
}

// Init checks that the server is reachable
func (r *RedisStorage) Init() error {
	if err := r.client.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

func (r *RedisStorage) Open(ctx context.Context, name string) (GenericCache, error) {
	if err := ValidateStoreName(name); err != nil {
		return nil, err
	}
	if err := r.client.SAdd(ctx, r.namesKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("failed to create store %s: %w", name, err)
	}
	return &redisCache{storage: r, name: name}, nil
}

func (r *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (r *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, r.namesKey(), name)
		pipe.Del(ctx, r.storeKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete store %s: %w", name, err)
	}
	return removed.Val() > 0, nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

type redisCache struct {
	storage *RedisStorage
	name    string
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.storage.client.HGet(ctx, c.storage.storeKey(c.name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte) error {
	keys := []string{c.storage.namesKey(), c.storage.storeKey(c.name)}
	return setIfStoreExists.Run(ctx, c.storage.client, keys, c.name, key, value).Err()
}
