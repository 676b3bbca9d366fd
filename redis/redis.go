package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blocksql/osql"
)

type client struct {
	conn *Connection
}

// NewClient returns a cache client over the singleton connection. Call
// OpenConnection first.
func NewClient() osql.Cache {
	return &client{
		conn: connection,
	}
}

// keyNotFound will detect whether error signifies key not found by Redis.
func (c client) keyNotFound(err error) bool {
	return err == redis.Nil
}

func (c client) open() error {
	if c.conn == nil || c.conn.Client == nil {
		return fmt.Errorf("redis connection is not open, call OpenConnection(options) to open it")
	}
	return nil
}

// Ping tests connectivity for redis (PONG should be returned).
func (c client) Ping(ctx context.Context) error {
	if err := c.open(); err != nil {
		return err
	}
	return c.conn.Client.Ping(ctx).Err()
}

// Clear the cache. Be cautious calling this method as it flushes the Redis DB.
func (c client) Clear(ctx context.Context) error {
	if err := c.open(); err != nil {
		return err
	}
	return c.conn.Client.FlushDB(ctx).Err()
}

// Set executes the redis Set command.
func (c client) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if err := c.open(); err != nil {
		return err
	}
	return c.conn.Client.Set(ctx, key, value, expiration).Err()
}

// Get executes the redis Get command.
func (c client) Get(ctx context.Context, key string) (bool, string, error) {
	if err := c.open(); err != nil {
		return false, "", err
	}
	s, err := c.conn.Client.Get(ctx, key).Result()
	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, s, err
}

// SetIfNotExists executes the redis SetNX command; only the first claimer of a
// key gets true back.
func (c client) SetIfNotExists(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	if err := c.open(); err != nil {
		return false, err
	}
	return c.conn.Client.SetNX(ctx, key, value, expiration).Result()
}

// SetStruct marshals value to JSON then executes the redis Set command.
func (c client) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := c.open(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.conn.Client.Set(ctx, key, string(data), expiration).Err()
}

// GetStruct executes the redis Get command and unmarshals into target.
func (c client) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	if err := c.open(); err != nil {
		return false, err
	}
	s, err := c.conn.Client.Get(ctx, key).Result()
	if c.keyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), target); err != nil {
		return false, err
	}
	return true, nil
}

// Delete executes the redis Del command, reporting whether all keys were present.
func (c client) Delete(ctx context.Context, keys []string) (bool, error) {
	if err := c.open(); err != nil {
		return false, err
	}
	n, err := c.conn.Client.Del(ctx, keys...).Result()
	if err != nil {
		return false, err
	}
	return n == int64(len(keys)), nil
}

func init() {
	osql.RegisterCacheFactory(osql.Redis, NewClient)
}
