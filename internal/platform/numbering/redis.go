package numbering

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ehr/hospital-core/internal/platform/db"
)

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisReserver claims numbers with SET NX. A key outlives any transaction
// that could still be using the number. Keys are scoped by tenant, so two
// tenants may hold the same number.
type RedisReserver struct {
	client    setNXer
	keyPrefix string
	ttl       time.Duration
}

func NewRedisReserver(client *redis.Client, ttl time.Duration) *RedisReserver {
	return newRedisReserver(client, ttl)
}

func newRedisReserver(client setNXer, ttl time.Duration) *RedisReserver {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisReserver{client: client, keyPrefix: "docno:", ttl: ttl}
}

func (r *RedisReserver) Reserve(ctx context.Context, number string) (bool, error) {
	return r.client.SetNX(ctx, r.key(ctx, number), 1, r.ttl).Result()
}

func (r *RedisReserver) key(ctx context.Context, number string) string {
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		tenant = "default"
	}
	return r.keyPrefix + tenant + ":" + number
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
