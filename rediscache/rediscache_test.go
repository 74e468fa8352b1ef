package rediscache

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"teachings/teachings"
)

type countingEmbedder struct {
	calls int
	last  []string
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.last = texts
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestKey(t *testing.T) {
	k := Key("text-embedding-3-small", "hello")
	if !strings.HasPrefix(k, "emb:text-embedding-3-small:") {
		t.Fatalf("prefix: got=%s", k)
	}
	if k != Key("text-embedding-3-small", "hello") {
		t.Fatalf("key must be stable")
	}
	if k == Key("text-embedding-3-large", "hello") {
		t.Fatalf("key must depend on model")
	}
}

func TestFallsThroughWhenRedisIsDown(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	inner := &countingEmbedder{}
	e := New(inner, rdb, "m", 0, nil)
	got, err := e.EmbedBatch(context.Background(), []string{"ab", "abcd"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if inner.calls != 1 || got[0][0] != 2 || got[1][0] != 4 {
		t.Fatalf("fallthrough: calls=%d got=%v", inner.calls, got)
	}
}

// memRedis answers MGet and pipelined Set from a map. Every other command
// panics through the nil embedded interface.
type memRedis struct {
	goredis.Cmdable
	data map[string]string
	ttls map[string]time.Duration
}

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memRedis) MGet(ctx context.Context, keys ...string) *goredis.SliceCmd {
	vals := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := m.data[k]; ok {
			vals[i] = v
		}
	}
	return goredis.NewSliceResult(vals, nil)
}

func (m *memRedis) Pipeline() goredis.Pipeliner {
	return &memPipe{r: m}
}

type memPipe struct {
	goredis.Pipeliner
	r    *memRedis
	sets int
}

func (p *memPipe) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		p.r.data[key] = string(v)
	default:
		p.r.data[key] = fmt.Sprint(v)
	}
	p.r.ttls[key] = expiration
	p.sets++
	return goredis.NewStatusResult("OK", nil)
}

func (p *memPipe) Exec(ctx context.Context) ([]goredis.Cmder, error) {
	return nil, nil
}

func TestCacheHitsAndWriteBack(t *testing.T) {
	ctx := context.Background()
	rdb := newMemRedis()
	rdb.data[Key("m", "ab")] = string(teachings.EncodeVector([]float32{9, 9}))

	inner := &countingEmbedder{}
	e := New(inner, rdb, "m", time.Hour, nil)

	got, err := e.EmbedBatch(ctx, []string{"ab", "abcd"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if inner.calls != 1 || len(inner.last) != 1 || inner.last[0] != "abcd" {
		t.Fatalf("inner: calls=%d texts=%v", inner.calls, inner.last)
	}
	if got[0][0] != 9 || got[0][1] != 9 || got[1][0] != 4 || got[1][1] != 1 {
		t.Fatalf("merged: got=%v", got)
	}

	stored, ok := rdb.data[Key("m", "abcd")]
	if !ok {
		t.Fatalf("miss was not written back")
	}
	if v := teachings.DecodeVector([]byte(stored)); len(v) != 2 || v[0] != 4 {
		t.Fatalf("written vector: got=%v", v)
	}
	if rdb.ttls[Key("m", "abcd")] != time.Hour {
		t.Fatalf("ttl: got=%v", rdb.ttls[Key("m", "abcd")])
	}

	again, err := e.EmbedBatch(ctx, []string{"abcd", "ab"})
	if err != nil {
		t.Fatalf("second embed: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("full hit must not call the provider: calls=%d", inner.calls)
	}
	if again[0][0] != 4 || again[1][0] != 9 {
		t.Fatalf("full hit: got=%v", again)
	}
}

func TestCacheIgnoresCorruptEntries(t *testing.T) {
	rdb := newMemRedis()
	rdb.data[Key("m", "ab")] = "xyz"

	inner := &countingEmbedder{}
	got, err := New(inner, rdb, "m", 0, nil).Embed(context.Background(), "ab")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if inner.calls != 1 || got[0] != 2 {
		t.Fatalf("corrupt entry: calls=%d got=%v", inner.calls, got)
	}
	if v := teachings.DecodeVector([]byte(rdb.data[Key("m", "ab")])); len(v) != 2 {
		t.Fatalf("corrupt entry was not replaced: %v", v)
	}
}
