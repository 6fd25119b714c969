package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/db"
	"github.com/kailas-cloud/ragflow/internal/domain"
)

var cacheKeyPrefix = domain.KeyPrefix + "emb_cache:"

// store is the consumer interface for the embedding cache (ISP).
type store interface {
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	SetMulti(ctx context.Context, items []db.KVItem, ttl time.Duration) error
}

// CachedEmbedder caches embeddings in a key-value store.
type CachedEmbedder struct {
	inner      domain.BatchEmbedder
	store      store
	model      string
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator. The model name is part of every cache key
// so switching models never serves stale vectors. ttl <= 0 caches forever.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner domain.BatchEmbedder,
	s store,
	model string,
	ttl time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	return &CachedEmbedder{
		inner:      inner,
		store:      s,
		model:      model,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// BatchEmbed serves hits from the cache and embeds all misses in one inner
// call, preserving input order. Token usage counts misses only.
// Cache read and write failures degrade to a miss and are only logged.
func (c *CachedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.cacheKey(text)
	}

	embeddings := c.lookup(ctx, keys)

	var missIdx []int
	var missTexts []string
	for i, vec := range embeddings {
		if vec == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	c.addCache("hit", len(texts)-len(missIdx))
	c.addCache("miss", len(missIdx))

	if len(missIdx) == 0 {
		return domain.BatchEmbeddingResult{Embeddings: embeddings}, nil
	}

	res, err := c.inner.BatchEmbed(ctx, missTexts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embed %d cache misses: %w", len(missTexts), err)
	}
	if len(res.Embeddings) != len(missTexts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("requested %d, got %d: %w",
			len(missTexts), len(res.Embeddings), domain.ErrEmbeddingShape)
	}

	items := make([]db.KVItem, len(missIdx))
	for j, i := range missIdx {
		embeddings[i] = res.Embeddings[j]
		items[j] = db.KVItem{Key: keys[i], Value: vectorToCacheBytes(res.Embeddings[j])}
	}
	if err := c.store.SetMulti(ctx, items, c.ttl); err != nil {
		c.logger.Warn("Failed to cache embeddings", zap.Int("count", len(items)), zap.Error(err))
	}

	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// lookup returns one entry per key; nil marks a miss.
func (c *CachedEmbedder) lookup(ctx context.Context, keys []string) [][]float32 {
	out := make([][]float32, len(keys))

	values, err := c.store.MGet(ctx, keys)
	if err != nil {
		c.logger.Warn("Failed to get cached embeddings", zap.Int("count", len(keys)), zap.Error(err))
		return out
	}

	for i, data := range values {
		if i >= len(out) || len(data) == 0 {
			continue
		}
		vec, err := bytesToVector(data)
		if err != nil {
			c.logger.Warn("Failed to parse cached embedding", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		out[i] = vec
	}
	return out
}

func (c *CachedEmbedder) addCache(result string, n int) {
	if c.cacheTotal != nil && n > 0 {
		c.cacheTotal.WithLabelValues(result).Add(float64(n))
	}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(c.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

func vectorToCacheBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
