package teachings

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func newTestSQLiteIndex(t *testing.T) SQLiteIndex {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	idx, err := NewSQLiteIndex(context.Background(), db)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return idx
}

func TestSQLiteIndexUpsertQueryClear(t *testing.T) {
	ctx := context.Background()
	idx := newTestSQLiteIndex(t)

	near := IndexedChunk{
		Chunk: Chunk{
			ID: "near", TeachingID: "Day One", Index: 0, Text: "Sit.",
			StartMs: 1_500, EndMs: 3_000, SpanStart: 0, SpanEnd: 2,
			Sentences: []Sentence{{Index: 0, Text: "Sit.", StartMs: 1_500, EndMs: 3_000, TeachingID: "Day One"}},
		},
		Embedding: []float32{1, 0},
		Video:     &VideoRef{VideoURL: "https://v/1.mp4", GCSPath: "videos/1.mp4"},
	}
	far := IndexedChunk{
		Chunk:     Chunk{ID: "far", TeachingID: "Day One", Index: 1, Text: "Walk."},
		Embedding: []float32{0, 1},
	}
	if err := idx.Upsert(ctx, []IndexedChunk{far, near}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := idx.Query(ctx, []float32{1, 0.1}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].ID != "near" {
		t.Fatalf("order: got=%+v", got)
	}
	if got[0].Video == nil || got[0].Video.GCSPath != "videos/1.mp4" || got[1].Video != nil {
		t.Fatalf("video: got=%+v / %+v", got[0].Video, got[1].Video)
	}
	if len(got[0].Sentences) != 1 || got[0].StartMs != 1_500 || got[0].Embedding[0] != 1 {
		t.Fatalf("chunk: got=%+v", got[0])
	}
	if got[0].Score <= got[1].Score {
		t.Fatalf("scores: %v <= %v", got[0].Score, got[1].Score)
	}

	top, err := idx.Query(ctx, []float32{1, 0}, 1)
	if err != nil || len(top) != 1 {
		t.Fatalf("fetch k: got=%d err=%v", len(top), err)
	}

	near.Text = "Sit down."
	if err := idx.Upsert(ctx, []IndexedChunk{near}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if n, _ := idx.Count(ctx); n != 2 {
		t.Fatalf("count after re-upsert: want=2 got=%d", n)
	}

	if err := idx.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := idx.Count(ctx); n != 0 {
		t.Fatalf("count after clear: want=0 got=%d", n)
	}
}

func TestSQLiteIndexManyRows(t *testing.T) {
	ctx := context.Background()
	idx := newTestSQLiteIndex(t)
	chunks := make([]IndexedChunk, 1_200)
	for i := range chunks {
		chunks[i] = IndexedChunk{
			Chunk:     Chunk{ID: ChunkID("T", i, i+1), TeachingID: "T", Index: i, Text: "x"},
			Embedding: []float32{float32(i), 1},
		}
	}
	if err := idx.Upsert(ctx, chunks); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n, _ := idx.Count(ctx); n != len(chunks) {
		t.Fatalf("count: want=%d got=%d", len(chunks), n)
	}
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out := DecodeVector(EncodeVector(in))
	if len(out) != len(in) {
		t.Fatalf("len: got=%d", len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("value %d: want=%v got=%v", i, in[i], out[i])
		}
	}
}
