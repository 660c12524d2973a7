// Package cache keeps generated answers in Redis so repeated questions skip
// retrieval and generation until the next ingest.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection and keying settings.
type Config struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	TTL         time.Duration
	DialTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:        "localhost:6379",
		Prefix:      "agrirag:answer:",
		TTL:         time.Hour,
		DialTimeout: 5 * time.Second,
	}
}

// Cache maps questions to answers.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects and pings Redis.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return NewFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewFromClient wraps an existing client. ttl 0 keeps entries until cleared.
func NewFromClient(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

// generationKey holds a counter bumped by every Clear. Answer keys embed the
// generation read before retrieval, so an answer computed against an older
// index is written under a key no later reader looks up.
func (c *Cache) generationKey() string { return c.prefix + "generation" }

func (c *Cache) key(generation int64, question string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(question)))
	return c.prefix + strconv.FormatInt(generation, 10) + ":" + hex.EncodeToString(sum[:])
}

// Generation returns the current cache generation.
func (c *Cache) Generation(ctx context.Context) (int64, error) {
	g, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading cache generation: %w", err)
	}
	return g, nil
}

// Get returns the answer cached for question in generation, and whether one
// was found.
func (c *Cache) Get(ctx context.Context, generation int64, question string) (string, bool, error) {
	v, err := c.client.Get(ctx, c.key(generation, question)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cached answer: %w", err)
	}
	return v, true, nil
}

func (c *Cache) Set(ctx context.Context, generation int64, question, answer string) error {
	if err := c.client.Set(ctx, c.key(generation, question), answer, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching answer: %w", err)
	}
	return nil
}

// Clear starts a new generation, then drops every cached answer under the
// prefix. Answers still being computed against the old generation stay
// unreachable.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		return fmt.Errorf("bumping cache generation: %w", err)
	}
	genKey := c.generationKey()
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scanning cached answers: %w", err)
		}
		stale := keys[:0]
		for _, k := range keys {
			if k != genKey {
				stale = append(stale, k)
			}
		}
		if len(stale) > 0 {
			if err := c.client.Del(ctx, stale...).Err(); err != nil {
				return fmt.Errorf("clearing cached answers: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *Cache) Close() error {
	return c.client.Close()
}
