package lifecycle

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// StatusCache stores derived member statuses in Redis. Keys embed the timeline
// version, so every commit invalidates older entries without explicit deletes.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewStatusCache instantiates the cache helper.
func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

// Fetch returns the cached status or populates it using loader. Concurrent misses for
// the same key share one load.
func (c *StatusCache) Fetch(ctx context.Context, memberID string, version int64, day time.Time, loader func(context.Context) (Status, error)) (Status, error) {
	if loader == nil {
		return "", errors.New("lifecycle: status loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := statusKey(memberID, version, day)
	cached, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return Status(cached), nil
	}
	if err != redis.Nil {
		return "", err
	}
	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		status, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, string(status), c.ttl).Err(); err != nil {
			return nil, err
		}
		return status, nil
	})
	if err != nil {
		return "", err
	}
	return value.(Status), nil
}

func statusKey(memberID string, version int64, day time.Time) string {
	return strings.Join([]string{"lifecycle", "status", memberID, strconv.FormatInt(version, 10), day.Format(time.DateOnly)}, ":")
}
