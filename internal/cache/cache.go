// Package cache keeps conversation histories in Redis between writes.
//
// The cache is optional. A nil *History, or one built without a client,
// behaves as a permanent miss, and Redis errors are logged and treated as
// misses so the database stays the source of truth.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/MikeSquared-Agency/medbridge/internal/store"
)

const (
	pingTimeout = 5 * time.Second
	minGenTTL   = 24 * time.Hour
)

type History struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Connect dials Redis at addr. On failure it returns nil and the error; a nil
// *History is safe to use.
func Connect(ctx context.Context, addr, password string, ttl time.Duration, logger *slog.Logger) (*History, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(rdb, ttl, logger), nil
}

func New(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *History {
	return &History{rdb: rdb, ttl: ttl, logger: logger}
}

func (h *History) enabled() bool {
	return h != nil && h.rdb != nil
}

// Each conversation has a generation counter that writers bump. History is
// stored under the generation the reader saw before querying the database, so
// a list read before a write can never be served after it.
func genKey(conversationID int64) string {
	return fmt.Sprintf("medbridge:history:%d:gen", conversationID)
}

func key(conversationID, gen int64) string {
	return fmt.Sprintf("medbridge:history:%d:%d", conversationID, gen)
}

// genTTL keeps the counter well past the life of any entry written under it.
func (h *History) genTTL() time.Duration {
	return max(minGenTTL, 2*h.ttl)
}

// Get returns the cached history, the generation it was looked up under, and
// whether it was found. A negative generation means the cache could not be
// read and the caller should not Set.
func (h *History) Get(ctx context.Context, conversationID int64) ([]store.Message, int64, bool) {
	if !h.enabled() {
		return nil, -1, false
	}

	gen, err := h.rdb.Get(ctx, genKey(conversationID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		h.logger.Warn("history cache read failed", "conversation_id", conversationID, "error", err)
		return nil, -1, false
	}

	data, err := h.rdb.Get(ctx, key(conversationID, gen)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			h.logger.Warn("history cache read failed", "conversation_id", conversationID, "error", err)
			return nil, -1, false
		}
		return nil, gen, false
	}

	var msgs []store.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		h.logger.Warn("history cache entry corrupt", "conversation_id", conversationID, "error", err)
		return nil, gen, false
	}
	return msgs, gen, true
}

// Set stores msgs under gen, the generation returned by the Get that missed.
func (h *History) Set(ctx context.Context, conversationID, gen int64, msgs []store.Message) {
	if !h.enabled() || gen < 0 {
		return
	}

	data, err := json.Marshal(msgs)
	if err != nil {
		h.logger.Warn("history cache encode failed", "conversation_id", conversationID, "error", err)
		return
	}
	if err := h.rdb.Set(ctx, key(conversationID, gen), data, h.ttl).Err(); err != nil {
		h.logger.Warn("history cache write failed", "conversation_id", conversationID, "error", err)
	}
}

// Invalidate moves a conversation to a new generation, orphaning every entry
// written under the old one.
func (h *History) Invalidate(ctx context.Context, conversationID int64) {
	if !h.enabled() {
		return
	}
	k := genKey(conversationID)
	_, err := h.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, k)
		if h.ttl > 0 {
			pipe.Expire(ctx, k, h.genTTL())
		}
		return nil
	})
	if err != nil {
		h.logger.Warn("history cache invalidate failed", "conversation_id", conversationID, "error", err)
	}
}

func (h *History) Close() error {
	if !h.enabled() {
		return nil
	}
	return h.rdb.Close()
}
