package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const tagIndexTTL = 24 * time.Hour

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// RedisBackend keeps one set per tag listing the keys written under it.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

var errStaleGeneration = errors.New("cache: tag generation moved")

func tagKey(tag string) string {
	return "cache:tag:" + tag
}

func generationKey(tag string) string {
	return "cache:gen:" + tag
}

func (c *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisBackend) Generation(ctx context.Context, tag string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(tag)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetTagged watches the tag generation so an eviction that lands between
// the check and the write aborts the write.
func (c *RedisBackend) SetTagged(ctx context.Context, key string, value []byte, ttl time.Duration, tag string, gen int64) (bool, error) {
	genKey := generationKey(tag)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, ttl)
			pipe.SAdd(ctx, tagKey(tag), key)
			pipe.Expire(ctx, tagKey(tag), tagIndexTTL)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, errStaleGeneration) || errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisBackend) DeleteTagged(ctx context.Context, tags ...string) error {
	for _, tag := range tags {
		// Advance first: a fill that read the old generation can no longer land.
		if err := c.client.Incr(ctx, generationKey(tag)).Err(); err != nil {
			return fmt.Errorf("cache: advance tag %s: %w", tag, err)
		}
		index := tagKey(tag)
		keys, err := c.client.SMembers(ctx, index).Result()
		if err != nil {
			return fmt.Errorf("cache: list tag %s: %w", tag, err)
		}
		if err := c.client.Del(ctx, append(keys, index)...).Err(); err != nil {
			return fmt.Errorf("cache: delete tag %s: %w", tag, err)
		}
	}
	return nil
}
