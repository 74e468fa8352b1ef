package teachings

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
)

const bagDims = 64

// bagVector hashes lowercase words into a fixed width count vector, so texts
// that share words are close.
func bagVector(text string) []float32 {
	v := make([]float32, bagDims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?\"'()")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%bagDims]++
	}
	return v
}

type bagEmbedder struct {
	mu sync.Mutex
	// failures is the number of EmbedBatch calls that fail before calls
	// start succeeding. Negative fails forever.
	failures int
	calls    int
	err      error
}

func (e *bagEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return bagVector(text), nil
}

func (e *bagEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	fail := e.failures != 0
	if e.failures > 0 {
		e.failures--
	}
	e.mu.Unlock()
	if fail {
		return nil, errors.New("provider overloaded")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = bagVector(t)
	}
	return out, nil
}

func (e *bagEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type memIndex struct {
	mu        sync.Mutex
	chunks    map[string]IndexedChunk
	upsertErr error
	queryErr  error
	clears    int
}

func newMemIndex() *memIndex {
	return &memIndex{chunks: map[string]IndexedChunk{}}
}

func (m *memIndex) Upsert(ctx context.Context, chunks []IndexedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *memIndex) Query(ctx context.Context, v []float32, fetchK int) ([]ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	out := make([]ScoredChunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		out = append(out, ScoredChunk{IndexedChunk: c, Score: cosine(v, c.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].TeachingID != out[j].TeachingID {
			return out[i].TeachingID < out[j].TeachingID
		}
		return out[i].Index < out[j].Index
	})
	if len(out) > fetchK {
		out = out[:fetchK]
	}
	return out, nil
}

func (m *memIndex) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = map[string]IndexedChunk{}
	m.clears++
	return nil
}

func (m *memIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

var natoWords = []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel", "india", "juliet", "kilo", "lima"}

// secondTranscript has n one-sentence rows, one second apart, each with a
// distinct word.
func secondTranscript(teachingID string, n int) Transcript {
	t := Transcript{TeachingID: teachingID}
	for i := 0; i < n; i++ {
		t.Rows = append(t.Rows, TranscriptRow{
			TeachingID: teachingID,
			Text:       fmt.Sprintf("Here the speaker explains idea %s carefully.", natoWords[i%len(natoWords)]),
			Start:      fmt.Sprint(i),
			End:        fmt.Sprint(i + 1),
		})
	}
	return t
}

func indexed(id string, v ...float32) ScoredChunk {
	return ScoredChunk{IndexedChunk: IndexedChunk{Chunk: Chunk{ID: id, Text: id}, Embedding: v}}
}
