package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-stripe-orders/internal/orders"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Ledger records processed event ids under dedup:{Scope}:{id}.
type Ledger struct {
	Redis redis.Cmdable
	Scope string
}

func (l *Ledger) key(id string) string { return fmt.Sprintf(KeyDedup, l.Scope, id) }

func (l *Ledger) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, l.Redis, l.key(id))
}

func (l *Ledger) MarkProcessed(ctx context.Context, id string) error {
	return l.Redis.Set(ctx, l.key(id), "1", TTLDedup).Err()
}

type CachedStatus struct {
	Status    string    `json:"status"`
	OwnerID   string    `json:"owner_id"`
	UpdatedAt time.Time `json:"updated_at"`
	Rank      int       `json:"rank"` // orders.Status.Rank, filled in on write
}

// StatusCache is the short-lived order status cache.
type StatusCache struct {
	Redis redis.Cmdable
}

var ErrMiss = errors.New("cache miss")

func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, error) {
	s, err := c.Redis.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return CachedStatus{}, ErrMiss
	}
	if err != nil {
		return CachedStatus{}, err
	}
	var cs CachedStatus
	if err := json.Unmarshal([]byte(s), &cs); err != nil {
		return CachedStatus{}, ErrMiss
	}
	return cs, nil
}

// advanceScript writes ARGV[1] unless the cached entry already holds a
// later lifecycle rank, so a late event cannot move a status backwards.
var advanceScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, obj = pcall(cjson.decode, cur)
  if ok and type(obj) == 'table' then
    local rank = tonumber(obj['rank'])
    if rank and rank > tonumber(ARGV[2]) then
      return 0
    end
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// Set stores cs unless a later status is already cached.
func (c *StatusCache) Set(ctx context.Context, orderID string, cs CachedStatus) error {
	cs.Rank = orders.Status(cs.Status).Rank()
	b, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	key := fmt.Sprintf(KeyOrderStatus, orderID)
	return advanceScript.Run(ctx, c.Redis, []string{key}, b, cs.Rank, TTLStatusCache.Milliseconds()).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.Redis.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// Queue is a capped LIST of JSON records awaiting manual reconciliation.
type Queue struct {
	Redis redis.Cmdable
	Key   string
}

func (q *Queue) Push(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = q.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, q.Key, b)
		p.LTrim(ctx, q.Key, 0, MaxQueueLen-1)
		return nil
	})
	return err
}

// List returns up to n records, newest first.
func (q *Queue) List(ctx context.Context, n int64) ([]json.RawMessage, error) {
	if n <= 0 {
		n = MaxQueueLen
	}
	vals, err := q.Redis.LRange(ctx, q.Key, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(vals))
	for _, v := range vals {
		out = append(out, json.RawMessage(v))
	}
	return out, nil
}

func (q *Queue) Clear(ctx context.Context) error {
	return q.Redis.Del(ctx, q.Key).Err()
}

// Seed writes cs only when no entry exists yet, so a late OrderCreated
// cannot overwrite a newer status.
func (c *StatusCache) Seed(ctx context.Context, orderID string, cs CachedStatus) error {
	cs.Rank = orders.Status(cs.Status).Rank()
	b, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	return c.Redis.SetNX(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}
