package teachings

import (
	"errors"
	"fmt"
	"testing"
	"unicode/utf8"
)

func sentencesOf(teachingID string, texts ...string) []Sentence {
	out := make([]Sentence, len(texts))
	for i, t := range texts {
		out[i] = Sentence{Index: i, Text: t, StartMs: uint64(i) * 1000, EndMs: uint64(i+1) * 1000, TeachingID: teachingID}
	}
	return out
}

func numbered(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Sentence %d.", i)
	}
	return out
}

func mustChunker(t *testing.T, cfg ChunkConfig) Chunker {
	t.Helper()
	c, err := NewChunker(cfg)
	if err != nil {
		t.Fatalf("new chunker: %v", err)
	}
	return c
}

func TestChunkCountAndOverlap(t *testing.T) {
	cases := []struct {
		n, w, s int
		want    int
	}{
		{n: 10, w: 4, s: 2, want: 4},
		{n: 11, w: 4, s: 2, want: 5},
		{n: 5, w: 5, s: 2, want: 1},
		{n: 3, w: 5, s: 2, want: 1},
		{n: 20, w: 5, s: 2, want: 9},
	}
	for _, tc := range cases {
		c := mustChunker(t, ChunkConfig{WindowSize: tc.w, StepSize: tc.s, MaxChars: 10_000})
		chunks := c.Chunk("T", sentencesOf("T", numbered(tc.n)...))
		if len(chunks) != tc.want {
			t.Fatalf("n=%d w=%d s=%d: want=%d got=%d", tc.n, tc.w, tc.s, tc.want, len(chunks))
		}
		if last := chunks[len(chunks)-1]; last.SpanEnd != tc.n {
			t.Fatalf("n=%d: last chunk must reach the end, got span end %d", tc.n, last.SpanEnd)
		}
		for i := 1; i < len(chunks); i++ {
			prev, cur := chunks[i-1], chunks[i]
			if cur.SpanStart != prev.SpanStart+tc.s {
				t.Fatalf("step: got starts %d then %d", prev.SpanStart, cur.SpanStart)
			}
			if cur.SpanEnd == prev.SpanEnd+tc.s && prev.SpanEnd-cur.SpanStart != tc.w-tc.s {
				t.Fatalf("overlap: want=%d got=%d", tc.w-tc.s, prev.SpanEnd-cur.SpanStart)
			}
			if cur.Index != i {
				t.Fatalf("index: want=%d got=%d", i, cur.Index)
			}
		}
	}
}

func TestChunkSpansAndTimes(t *testing.T) {
	c := mustChunker(t, ChunkConfig{WindowSize: 4, StepSize: 2, MaxChars: 10_000})
	chunks := c.Chunk("T", sentencesOf("T", numbered(10)...))
	wantSpans := [][2]int{{0, 4}, {2, 6}, {4, 8}, {6, 10}}
	for i, w := range wantSpans {
		if chunks[i].SpanStart != w[0] || chunks[i].SpanEnd != w[1] {
			t.Fatalf("chunk %d: want=[%d,%d) got=[%d,%d)", i, w[0], w[1], chunks[i].SpanStart, chunks[i].SpanEnd)
		}
	}
	if chunks[1].StartMs != 2_000 || chunks[1].EndMs != 6_000 {
		t.Fatalf("times: got=%d..%d", chunks[1].StartMs, chunks[1].EndMs)
	}
	if chunks[0].Text != "Sentence 0. Sentence 1. Sentence 2. Sentence 3." {
		t.Fatalf("text: got=%q", chunks[0].Text)
	}
}

func TestChunkMaxCharsTruncatesTail(t *testing.T) {
	texts := []string{"aaaaaaaaa.", "bbbbbbbbb.", "ccccccccc.", "ddddddddd."}
	c := mustChunker(t, ChunkConfig{WindowSize: 4, StepSize: 2, MaxChars: 25})
	chunks := c.Chunk("T", sentencesOf("T", texts...))
	first := chunks[0]
	if first.Text != "aaaaaaaaa. bbbbbbbbb." {
		t.Fatalf("text: got=%q", first.Text)
	}
	if len(first.Sentences) != 2 || first.EndMs != 2_000 {
		t.Fatalf("kept sentences: got=%d end=%d", len(first.Sentences), first.EndMs)
	}
	// the span still covers the full window
	if first.SpanEnd != 4 {
		t.Fatalf("span end: got=%d", first.SpanEnd)
	}
	for _, ch := range chunks {
		if utf8.RuneCountInString(ch.Text) > 25 {
			t.Fatalf("chunk over cap: %q", ch.Text)
		}
	}
}

func TestChunkCutsOverlongFirstSentence(t *testing.T) {
	sentences := []Sentence{
		{Index: 0, Text: "Breathing in slowly we soften the whole body.", StartMs: 0, EndMs: 4_500, TeachingID: "T"},
		{Index: 1, Text: "Rest.", StartMs: 4_500, EndMs: 5_000, TeachingID: "T"},
	}
	c, err := NewChunker(ChunkConfig{WindowSize: 2, StepSize: 1, MaxChars: 10})
	if err != nil {
		t.Fatalf("new chunker: %v", err)
	}
	chunks := c.Chunk("T", sentences)
	if len(chunks) != 1 {
		t.Fatalf("chunks: want=1 got=%d", len(chunks))
	}
	got := chunks[0]
	if n := utf8.RuneCountInString(got.Text); n > 10 || got.Text != "Breathing" {
		t.Fatalf("text: got=%q (%d runes)", got.Text, n)
	}
	if len(got.Sentences) != 1 || got.Sentences[0].EndMs != 900 || got.EndMs != 900 {
		t.Fatalf("sentences: got=%+v end=%d", got.Sentences, got.EndMs)
	}
	if sentences[0].Text != "Breathing in slowly we soften the whole body." {
		t.Fatalf("input sentence was modified: %q", sentences[0].Text)
	}
}

func TestChunkIDsDeterministic(t *testing.T) {
	c := mustChunker(t, DefaultChunkConfig())
	a := c.Chunk("Day One", sentencesOf("Day One", numbered(12)...))
	b := c.Chunk("Day One", sentencesOf("Day One", numbered(12)...))
	other := c.Chunk("Day Two", sentencesOf("Day Two", numbered(12)...))
	seen := map[string]bool{}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("chunk %d: ids differ between runs", i)
		}
		if a[i].ID == other[i].ID {
			t.Fatalf("chunk %d: ids must depend on the teaching", i)
		}
		if seen[a[i].ID] {
			t.Fatalf("duplicate id %s", a[i].ID)
		}
		seen[a[i].ID] = true
	}
}

func TestChunkEmpty(t *testing.T) {
	if got := mustChunker(t, DefaultChunkConfig()).Chunk("T", nil); got != nil {
		t.Fatalf("want nil, got %+v", got)
	}
}

func TestInvalidChunkConfig(t *testing.T) {
	for _, cfg := range []ChunkConfig{
		{WindowSize: 0, StepSize: 1, MaxChars: 10},
		{WindowSize: 4, StepSize: 0, MaxChars: 10},
		{WindowSize: 4, StepSize: 4, MaxChars: 10},
		{WindowSize: 4, StepSize: 2, MaxChars: 0},
	} {
		if _, err := NewChunker(cfg); !errors.Is(err, ErrInvalidChunkConfig) {
			t.Fatalf("%+v: want ErrInvalidChunkConfig, got %v", cfg, err)
		}
	}
}
