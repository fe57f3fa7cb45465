// pkg/platform/nonce/redis.go
package nonce

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/rueidis"
)

// Redis stores each record as a JSON string with a server-side TTL. TakeOnce
// uses GETDEL, which Redis executes atomically.
type Redis struct {
	client rueidis.Client
	prefix string
	expiry Expiry
	now    func() time.Time
}

// RedisOption configures Redis.
type RedisOption func(*Redis)

// WithKeyPrefix scopes keys, e.g. "editor:nonce" -> "editor:nonce:<id>".
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" && !strings.HasSuffix(prefix, ":") {
			prefix += ":"
		}
		r.prefix = prefix
	}
}

// WithRecordExpiry sets per-kind key expiry (default DefaultTTL for all).
// Keys always carry a server-side TTL; non-positive lifetimes fall back to
// DefaultTTL.
func WithRecordExpiry(e Expiry) RedisOption {
	return func(r *Redis) { r.expiry = e }
}

func NewRedis(client rueidis.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "nonce:", expiry: UniformExpiry(DefaultTTL), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// DialRedis parses a redis:// or rediss:// URL, connects and pings.
func DialRedis(ctx context.Context, url string) (rueidis.Client, error) {
	opt, err := rueidis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("nonce: redis url: %w", err)
	}
	// handshake records are read exactly once; client-side caching buys nothing
	opt.DisableCache = true
	cli, err := rueidis.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("nonce: redis connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Do(pingCtx, cli.B().Ping().Build()).Error(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("nonce: redis ping: %w", err)
	}
	return cli, nil
}

type redisRecord struct {
	Kind      Kind              `json:"kind"`
	Payload   map[string]string `json:"payload"`
	CreatedAt int64             `json:"created_at"`
}

func (r *Redis) key(id string) string { return r.prefix + id }

func (r *Redis) Put(ctx context.Context, rec Record) (string, error) {
	rec, err := prepare(rec, r.now())
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(redisRecord{Kind: rec.Kind, Payload: rec.Payload, CreatedAt: rec.CreatedAt.UnixMilli()})
	if err != nil {
		return "", fmt.Errorf("nonce: encode: %w", err)
	}
	lifetime := r.expiry.TTL(rec.Kind)
	if lifetime <= 0 {
		lifetime = DefaultTTL
	}
	ttl := max(int64(lifetime/time.Second), 1)
	cmd := r.client.B().Set().Key(r.key(rec.ID)).Value(rueidis.BinaryString(b)).Nx().ExSeconds(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return "", fmt.Errorf("nonce: id collision %q", rec.ID)
		}
		return "", fmt.Errorf("nonce: redis set: %w", err)
	}
	return rec.ID, nil
}

func (r *Redis) TakeOnce(ctx context.Context, id string) (Record, error) {
	bs, err := r.client.Do(ctx, r.client.B().Getdel().Key(r.key(id)).Build()).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("nonce: redis getdel: %w", err)
	}
	var rr redisRecord
	if err := json.Unmarshal(bs, &rr); err != nil {
		return Record{}, fmt.Errorf("nonce: decode: %w", err)
	}
	rec := Record{ID: id, Kind: rr.Kind, Payload: rr.Payload, CreatedAt: time.UnixMilli(rr.CreatedAt)}
	if r.expiry.expired(rec, r.now()) {
		return Record{}, ErrNotFound
	}
	return rec, nil
}
