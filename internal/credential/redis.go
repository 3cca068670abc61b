package credential

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "phonelogin:session:"

// RedisStore keeps credentials as JSON strings with a TTL matching the token expiry.
type RedisStore struct {
	cli        *redis.Client
	defaultTTL time.Duration
	nowF       func() time.Time
}

// NewRedisStore returns a store using cli. defaultTTL applies to credentials without an expiry.
func NewRedisStore(cli *redis.Client, defaultTTL time.Duration) *RedisStore {
	return &RedisStore{cli: cli, defaultTTL: defaultTTL, nowF: func() time.Time { return time.Now().UTC() }}
}

// NewRedisClient connects to addr and pings it, closing the client again if the ping fails.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return cli, nil
}

// ErrAlreadyExpired is returned by Save for a credential whose token has already expired.
var ErrAlreadyExpired = errors.New("credential: already expired")

// Save writes c under its id.
func (s *RedisStore) Save(ctx context.Context, c *Credential) error {
	ttl := c.TTL(s.nowF(), s.defaultTTL)
	if ttl <= 0 && c.ExpiresAt != nil {
		return ErrAlreadyExpired
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.cli.Set(ctx, redisKey(c.ID), raw, ttl).Err()
}

// Get returns the credential for id, or nil when redis has no such key.
func (s *RedisStore) Get(ctx context.Context, id string) (*Credential, error) {
	raw, err := s.cli.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c Credential
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func redisKey(id string) string { return redisKeyPrefix + id }
