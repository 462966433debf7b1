// Package cache memoizes query embeddings in process.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
)

// CachedEmbedder wraps an Embedder with a TTL cache keyed by model and text.
// Concurrent misses for the same text share one backend call.
type CachedEmbedder struct {
	next  ports.Embedder
	model string
	cache *gocache.Cache
	group singleflight.Group
}

func NewCachedEmbedder(next ports.Embedder, model string, ttl, cleanupInterval time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 2 * ttl
	}
	return &CachedEmbedder{
		next:  next,
		model: model,
		cache: gocache.New(ttl, cleanupInterval),
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) (*domain.Embedding, error) {
	key := c.key(text)
	if v, ok := c.cache.Get(key); ok {
		return clone(v.(*domain.Embedding)), nil
	}

	// The shared call outlives any single waiter; each waiter gives up on its
	// own context.
	ch := c.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout(ctx))
		defer cancel()
		emb, err := c.next.Embed(callCtx, text)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(key, clone(emb))
		return emb, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.(*domain.Embedding)), nil
	}
}

const defaultSharedCallTimeout = 30 * time.Second

// sharedCallTimeout bounds the detached backend call, leaving room for a retry
// when ctx carries a per-attempt timeout.
func sharedCallTimeout(ctx context.Context) time.Duration {
	if d, ok := domain.CallTimeout(ctx); ok {
		return 3 * d
	}
	return defaultSharedCallTimeout
}

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.cache.ItemCount()
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// clone keeps callers from mutating cached vectors.
func clone(emb *domain.Embedding) *domain.Embedding {
	if emb == nil {
		return nil
	}
	out := *emb
	out.Vector = append([]float32(nil), emb.Vector...)
	return &out
}
