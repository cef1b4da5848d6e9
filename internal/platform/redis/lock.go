// Package redis provides the distributed run lock. Two schedulers firing
// overlapping resolution runs against one database would race the
// generation swap; the lock serializes them.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"unify/pkg/platform/sentinel"
)

// Client wraps the go-redis client with run-lock semantics.
type Client struct {
	*redis.Client
}

// New creates a Redis client from a URL. Returns nil if the URL is empty
// (lock not configured; single-scheduler deployments skip it).
func New(ctx context.Context, url string) (*Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

// RunLock is a held lock. Release it when the run finishes either way.
type RunLock struct {
	client *Client
	key    string
	token  string
}

// AcquireRunLock takes the named lock with a TTL guarding against a crashed
// holder. Returns sentinel.ErrConflict when another run holds it.
func (c *Client) AcquireRunLock(ctx context.Context, key string, ttl time.Duration) (*RunLock, error) {
	token := uuid.NewString()
	ok, err := c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("run lock %s held by another run: %w", key, sentinel.ErrConflict)
	}
	return &RunLock{client: c, key: key, token: token}, nil
}

// releaseScript deletes the lock only when this holder still owns it, so a
// slow run that outlived its TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release frees the lock if still held by this run.
func (l *RunLock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
