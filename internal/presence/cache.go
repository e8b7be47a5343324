package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheEntry is the value stored per online teacher.
type cacheEntry struct {
	UID        string    `json:"uid"`
	Status     string    `json:"status"`
	LastActive time.Time `json:"lastActive"`
}

// Cache mirrors the online set into Redis with a TTL, so other services can
// answer "who is online" without touching the document store. The TTL makes
// a crashed session fall offline on its own once heartbeats stop.
//
// A nil *Cache is valid and does nothing.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to Redis. The ttl should comfortably exceed the
// heartbeat interval; zero means twice the default interval.
func NewCache(addr, password string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 2 * defaultInterval
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

func cacheKey(uid string) string {
	return "presence:teacher:" + uid
}

// SetOnline writes the online marker with a fresh TTL.
func (c *Cache) SetOnline(ctx context.Context, uid string) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(cacheEntry{
		UID:        uid,
		Status:     "online",
		LastActive: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(uid), data, c.ttl).Err()
}

// Heartbeat extends the TTL; when the key expired it is recreated.
func (c *Cache) Heartbeat(ctx context.Context, uid string) error {
	if c == nil {
		return nil
	}
	ok, err := c.client.Expire(ctx, cacheKey(uid), c.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return c.SetOnline(ctx, uid)
	}
	return nil
}

// SetOffline removes the online marker.
func (c *Cache) SetOffline(ctx context.Context, uid string) error {
	if c == nil {
		return nil
	}
	err := c.client.Del(ctx, cacheKey(uid)).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// IsOnline reports whether a teacher currently has an online marker.
func (c *Cache) IsOnline(ctx context.Context, uid string) (bool, error) {
	if c == nil {
		return false, nil
	}
	n, err := c.client.Exists(ctx, cacheKey(uid)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
