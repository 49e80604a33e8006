// Package buffer provides the Redis-backed recency buffer of recent turns.
package buffer

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory"
)

const (
	keyPrefix       = "chat_history:"
	truncatedMarker = "...(truncated)"
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration
}

// Config bounds the buffer.
type Config struct {
	// MaxTurns is how many recent turns are retained. Default: 20
	MaxTurns int

	// TTL expires the buffer after the last write. Default: 1h
	TTL time.Duration

	// MaxChars caps the stored text of a turn. Default: 800
	MaxChars int
}

// DefaultConfig returns the buffer bounds.
func DefaultConfig() Config {
	return Config{
		MaxTurns: 20,
		TTL:      time.Hour,
		MaxChars: 800,
	}
}

// Connect opens a Redis client and verifies it with a ping.
func Connect(opts RedisOptions) (*redis.Client, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if opts.TLS != nil {
		redisOpts.TLSConfig = opts.TLS
	}
	redisOpts.DialTimeout = opts.ConnectTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisBuffer keeps each identifier's recent turns in a Redis list.
// The client is shared; every key is scoped to one identifier.
type RedisBuffer struct {
	client redis.UniversalClient
	config Config
	logger *zap.Logger
}

var _ memory.Buffer = (*RedisBuffer)(nil)

// New creates a buffer on an existing client.
func New(client redis.UniversalClient, cfg Config, logger *zap.Logger) *RedisBuffer {
	def := DefaultConfig()
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBuffer{client: client, config: cfg, logger: logger.Named("buffer")}
}

// Append pushes a turn, trims the list to the newest MaxTurns entries and
// refreshes the TTL in one pipeline. The three commands are not a
// transaction; a partial failure can leave this key untrimmed or without a
// fresh TTL until the next append.
func (b *RedisBuffer) Append(ctx context.Context, id string, role core.Role, text string) error {
	if err := core.ValidateIdentifier(id); err != nil {
		return err
	}

	data, err := json.Marshal(core.Turn{
		Role:      role,
		Content:   truncate(text, b.config.MaxChars),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	key := keyPrefix + id
	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-b.config.MaxTurns), -1)
		pipe.Expire(ctx, key, b.config.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append turn for %s: %w", id, err)
	}
	return nil
}

// Turns returns the retained turns, oldest first.
func (b *RedisBuffer) Turns(ctx context.Context, id string) ([]core.Turn, error) {
	if err := core.ValidateIdentifier(id); err != nil {
		return nil, err
	}

	raw, err := b.client.LRange(ctx, keyPrefix+id, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read turns for %s: %w", id, err)
	}

	turns := make([]core.Turn, 0, len(raw))
	for _, item := range raw {
		var turn core.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			b.logger.Warn("skipping malformed turn", zap.String("user_id", id), zap.Error(err))
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Read renders the retained turns as "User: ..." / "Bot: ..." lines.
func (b *RedisBuffer) Read(ctx context.Context, id string) (string, error) {
	turns, err := b.Turns(ctx, id)
	if err != nil {
		return "", err
	}
	return Render(turns), nil
}

// Render formats turns one per line.
func Render(turns []core.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Role.Label()+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

// truncate caps s at max runes and appends the truncation marker.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + truncatedMarker
}
