package rediscache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"teachings/b3"
	"teachings/logger"
	"teachings/teachings"
)

const DefaultTTL = 30 * 24 * time.Hour

// Embedder memoises another embedder in redis, keyed by model and content
// hash. Cache failures are logged and fall through to the wrapped embedder.
type Embedder struct {
	inner teachings.Embedder
	rdb   goredis.Cmdable
	model string
	ttl   time.Duration
	log   *logger.Logger
}

var _ teachings.Embedder = (*Embedder)(nil)

func New(inner teachings.Embedder, rdb goredis.Cmdable, model string, ttl time.Duration, log *logger.Logger) *Embedder {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Embedder{
		inner: inner,
		rdb:   rdb,
		model: model,
		ttl:   ttl,
		log:   log.With("service", "EmbeddingCache"),
	}
}

// Connect dials addr and pings it before returning the client.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func Key(model, text string) string {
	return "emb:" + model + ":" + b3.Hash(text)
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = Key(e.model, t)
	}

	out := make([][]float32, len(texts))
	cached, err := e.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		e.log.Warn("embedding cache read failed", "error", err)
		cached = nil
	}
	for i, v := range cached {
		if s, ok := v.(string); ok && len(s) > 0 && len(s)%4 == 0 {
			out[i] = teachings.DecodeVector([]byte(s))
		}
	}

	var (
		missIdx   []int
		missTexts []string
	)
	for i := range texts {
		if out[i] == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	fresh, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedding cache: inner returned %d vectors for %d inputs", len(fresh), len(missTexts))
	}

	pipe := e.rdb.Pipeline()
	for j, i := range missIdx {
		out[i] = fresh[j]
		pipe.Set(ctx, keys[i], teachings.EncodeVector(fresh[j]), e.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		e.log.Warn("embedding cache write failed", "error", err)
	}
	e.log.Debug("embedded", "inputs", len(texts), "cache_hits", len(texts)-len(missIdx))
	return out, nil
}
