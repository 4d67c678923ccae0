package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/set_location.lua
var setLocationScript string

// ErrLockHeld is returned when another owner holds a lock or guard.
var ErrLockHeld = errors.New("lock held by another owner")

type Client struct {
	rdb            *redis.Client
	releaseScript  *redis.Script
	locationScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewClientWithRedis(rdb), nil
}

// NewClientWithRedis wraps an existing go-redis client
func NewClientWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:            rdb,
		releaseScript:  redis.NewScript(releaseLockScript),
		locationScript: redis.NewScript(setLocationScript),
	}
}

// Ping checks Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Lock is an owned, expiring key. Only the owner that acquired it can
// release it.
type Lock struct {
	client *Client
	key    string
	token  string
}

// Key returns the Redis key backing the lock
func (l *Lock) Key() string {
	return l.key
}

// Release drops the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	_, err := l.client.releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

func (c *Client) acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: c, key: key, token: token}, nil
}

// AcquireOrderLock serializes status changes on one order.
func (c *Client) AcquireOrderLock(ctx context.Context, orderID int64, ttl time.Duration) (*Lock, error) {
	return c.acquire(ctx, fmt.Sprintf("lock:order:%d", orderID), ttl)
}

// AcquireIdempotencyGuard rejects a concurrent duplicate of an in-flight
// request carrying the same idempotency key.
func (c *Client) AcquireIdempotencyGuard(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	return c.acquire(ctx, fmt.Sprintf("idempotency:%s", key), ttl)
}

// AcquireSessionLock serializes resumes of one checkout session.
func (c *Client) AcquireSessionLock(ctx context.Context, sessionID string, ttl time.Duration) (*Lock, error) {
	return c.acquire(ctx, fmt.Sprintf("lock:checkout:%s", sessionID), ttl)
}

// Location is the most recent fix cached for the live view.
type Location struct {
	OrderID    int64     `json:"order_id"`
	PartnerID  int64     `json:"partner_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}

func locationKey(orderID int64) string {
	return fmt.Sprintf("location:order:%d", orderID)
}

// SetLastLocation caches loc unless a newer fix is already cached.
func (c *Client) SetLastLocation(ctx context.Context, loc Location, ttl time.Duration) (bool, error) {
	seconds := int64(ttl / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	result, err := c.locationScript.Run(ctx, c.rdb, []string{locationKey(loc.OrderID)},
		loc.PartnerID,
		strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		strconv.FormatFloat(loc.Lng, 'f', -1, 64),
		loc.RecordedAt.UnixMilli(),
		seconds,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("set location script failed: %w", err)
	}
	return result == 1, nil
}

// GetLastLocation returns the cached fix, nil when tracking is not live.
func (c *Client) GetLastLocation(ctx context.Context, orderID int64) (*Location, error) {
	fields, err := c.rdb.HGetAll(ctx, locationKey(orderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	loc := &Location{OrderID: orderID}
	if loc.PartnerID, err = strconv.ParseInt(fields["partner_id"], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt cached location partner: %w", err)
	}
	if loc.Lat, err = strconv.ParseFloat(fields["lat"], 64); err != nil {
		return nil, fmt.Errorf("corrupt cached location lat: %w", err)
	}
	if loc.Lng, err = strconv.ParseFloat(fields["lng"], 64); err != nil {
		return nil, fmt.Errorf("corrupt cached location lng: %w", err)
	}
	ms, err := strconv.ParseInt(fields["recorded_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt cached location timestamp: %w", err)
	}
	loc.RecordedAt = time.UnixMilli(ms).UTC()
	return loc, nil
}

// ClearLocation stops the live view for an order
func (c *Client) ClearLocation(ctx context.Context, orderID int64) error {
	return c.rdb.Del(ctx, locationKey(orderID)).Err()
}
