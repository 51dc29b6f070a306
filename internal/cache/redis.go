package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/soaringjerry/Praxis/internal/logger"
	"github.com/soaringjerry/Praxis/internal/services"
)

const (
	DefaultRedisPrefix = "praxis"
	DefaultRedisTTL    = 24 * time.Hour
)

// RedisCache shares snapshots between server instances. Failures are logged
// and reported as misses; the store stays the source of truth.
type RedisCache struct {
	rdb    *goredis.Client
	log    *logger.Logger
	prefix string
	ttl    time.Duration
}

var _ services.SnapshotCache = (*RedisCache)(nil)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key; defaults to DefaultRedisPrefix.
	Prefix string
	TTL    time.Duration
}

// NewRedisCache connects and pings the server before returning.
func NewRedisCache(ctx context.Context, opts RedisOptions, log *logger.Logger) (*RedisCache, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if log == nil {
		log = logger.Nop()
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisCache(rdb, opts, log), nil
}

func newRedisCache(rdb *goredis.Client, opts RedisOptions, log *logger.Logger) *RedisCache {
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisCache{rdb: rdb, log: log.With("cache", "RedisCache"), prefix: prefix, ttl: ttl}
}

// redisEntry carries the payload as base64 so the stored bytes round-trip exactly.
type redisEntry struct {
	ID            string    `json:"id"`
	ModuleID      string    `json:"module_id"`
	Version       int       `json:"version"`
	SchemaVersion int       `json:"schema_version"`
	Payload       []byte    `json:"payload"`
	PublishedAt   time.Time `json:"published_at"`
}

func (c *RedisCache) snapshotKey(moduleID string, version int) string {
	return c.prefix + ":snapshot:" + moduleID + ":" + strconv.Itoa(version)
}

// versionsKey names the set of cached versions of a module, used by Forget.
func (c *RedisCache) versionsKey(moduleID string) string {
	return c.prefix + ":snapshot:" + moduleID + ":versions"
}

func (c *RedisCache) Get(ctx context.Context, moduleID string, version int) (*services.PublishedSnapshot, bool) {
	raw, err := c.rdb.Get(ctx, c.snapshotKey(moduleID, version)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warn("redis get failed", "module_id", moduleID, "version", version, "error", err)
		return nil, false
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.Warn("redis entry corrupt", "module_id", moduleID, "version", version, "error", err)
		return nil, false
	}
	return &services.PublishedSnapshot{
		ID:            e.ID,
		ModuleID:      e.ModuleID,
		Version:       e.Version,
		SchemaVersion: e.SchemaVersion,
		Payload:       e.Payload,
		PublishedAt:   e.PublishedAt,
	}, true
}

func (c *RedisCache) Put(ctx context.Context, snap *services.PublishedSnapshot) {
	if snap == nil {
		return
	}
	raw, err := json.Marshal(redisEntry{
		ID:            snap.ID,
		ModuleID:      snap.ModuleID,
		Version:       snap.Version,
		SchemaVersion: snap.SchemaVersion,
		Payload:       snap.Payload,
		PublishedAt:   snap.PublishedAt,
	})
	if err != nil {
		c.log.Warn("redis encode failed", "module_id", snap.ModuleID, "error", err)
		return
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.snapshotKey(snap.ModuleID, snap.Version), raw, c.ttl)
	pipe.SAdd(ctx, c.versionsKey(snap.ModuleID), snap.Version)
	pipe.Expire(ctx, c.versionsKey(snap.ModuleID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("redis put failed", "module_id", snap.ModuleID, "version", snap.Version, "error", err)
	}
}

func (c *RedisCache) Forget(ctx context.Context, moduleID string) {
	setKey := c.versionsKey(moduleID)
	versions, err := c.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		c.log.Warn("redis forget failed", "module_id", moduleID, "error", err)
		return
	}
	keys := make([]string, 0, len(versions)+1)
	for _, v := range versions {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		keys = append(keys, c.snapshotKey(moduleID, n))
	}
	keys = append(keys, setKey)
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("redis forget failed", "module_id", moduleID, "error", err)
	}
}

func (c *RedisCache) Close() error { return c.rdb.Close() }
