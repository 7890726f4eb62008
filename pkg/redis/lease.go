package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a SET NX PX lock owned by a single holder token.
type Lease struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// NewLease builds a lease on key. A nil client falls back to the package client.
func NewLease(rdb *redis.Client, key string, ttl time.Duration) *Lease {
	if rdb == nil {
		rdb = client
	}
	return &Lease{
		rdb:   rdb,
		key:   key,
		token: fmt.Sprintf("%s-%d", uuid.NewString(), time.Now().UnixNano()),
		ttl:   ttl,
	}
}

// TryAcquire takes the lease, or renews it when this holder already owns it.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	val, err := l.rdb.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if val == l.token {
		return true, l.rdb.PExpire(ctx, l.key, l.ttl).Err()
	}
	return false, nil
}

// TTL is how long the lease survives without a renewal.
func (l *Lease) TTL() time.Duration { return l.ttl }

// Release drops the lease if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
