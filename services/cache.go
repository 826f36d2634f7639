package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// BoardCache keeps resolved board views in Redis. A nil client turns every
// call into a no-op so the service reads straight from the store.
type BoardCache struct {
	redis *redis.Client
	ttl   time.Duration
}

type cachedView struct {
	Version int64      `json:"version"`
	View    *BoardView `json:"view"`
}

func NewBoardCache(client *redis.Client, ttl time.Duration) *BoardCache {
	if ttl < 0 {
		ttl = 0
	}
	return &BoardCache{redis: client, ttl: ttl}
}

// Load returns the cached view of a board if it was stored at version
func (c *BoardCache) Load(ctx context.Context, boardID string, version int64) (*BoardView, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return nil, false
	}

	var cached cachedView
	if err := json.Unmarshal(data, &cached); err != nil || cached.View == nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return nil, false
	}
	if cached.Version != version {
		return nil, false
	}
	cached.View.Version = cached.Version
	return cached.View, true
}

func (c *BoardCache) Store(ctx context.Context, boardID string, version int64, view *BoardView) {
	if c == nil || c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(cachedView{Version: version, View: view})
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(boardID), data, c.ttl).Err()
}

func (c *BoardCache) Evict(ctx context.Context, boardID string) {
	if c == nil || c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(boardID)).Result()
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}
