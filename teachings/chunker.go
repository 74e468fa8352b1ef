package teachings

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"teachings/b3"
)

// ChunkConfig bounds sentence windows. Chunk ids depend on WindowSize and
// StepSize, so changing either requires a reset ingestion.
type ChunkConfig struct {
	WindowSize int `yaml:"window_size"`
	StepSize   int `yaml:"step_size"`
	MaxChars   int `yaml:"max_chars"`
}

func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{WindowSize: 5, StepSize: 2, MaxChars: 3500}
}

func (c ChunkConfig) Validate() error {
	switch {
	case c.WindowSize < 1:
		return fmt.Errorf("%w: window_size must be >= 1, got %d", ErrInvalidChunkConfig, c.WindowSize)
	case c.StepSize < 1:
		return fmt.Errorf("%w: step_size must be >= 1, got %d", ErrInvalidChunkConfig, c.StepSize)
	case c.StepSize >= c.WindowSize:
		return fmt.Errorf("%w: step_size %d must be smaller than window_size %d", ErrInvalidChunkConfig, c.StepSize, c.WindowSize)
	case c.MaxChars < 1:
		return fmt.Errorf("%w: max_chars must be >= 1, got %d", ErrInvalidChunkConfig, c.MaxChars)
	}
	return nil
}

type Chunker struct {
	cfg ChunkConfig
}

func NewChunker(cfg ChunkConfig) (Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return Chunker{}, err
	}
	return Chunker{cfg: cfg}, nil
}

// Chunk windows the sentences of one teaching. Window positions depend only
// on sentence indices: sentences dropped from one chunk by the character cap
// still start the overlap of the next one.
func (c Chunker) Chunk(teachingID string, sentences []Sentence) []Chunk {
	n := len(sentences)
	if n == 0 {
		return nil
	}
	var chunks []Chunk
	for start := 0; ; start += c.cfg.StepSize {
		end := start + c.cfg.WindowSize
		if end > n {
			end = n
		}
		kept, text := c.fit(sentences[start:end])
		chunks = append(chunks, Chunk{
			ID:         ChunkID(teachingID, start, end),
			TeachingID: teachingID,
			Index:      len(chunks),
			Text:       text,
			StartMs:    kept[0].StartMs,
			EndMs:      kept[len(kept)-1].EndMs,
			SpanStart:  start,
			SpanEnd:    end,
			Sentences:  kept,
		})
		if end >= n {
			break
		}
	}
	return chunks
}

// fit drops trailing sentences until the joined text is within MaxChars.
// The first sentence is always kept, cut at a word boundary when it is
// longer than MaxChars on its own.
func (c Chunker) fit(window []Sentence) ([]Sentence, string) {
	first := window[0]
	if runes := []rune(first.Text); len(runes) > c.cfg.MaxChars {
		sp := splitLong(runes, span{0, len(runes)}, c.cfg.MaxChars)[0]
		first.EndMs = interpolate(first.StartMs, first.EndMs, sp.to, len(runes))
		first.Text = string(runes[sp.from:sp.to])
	}

	var (
		b     strings.Builder
		total int
		kept  = 1
	)
	b.WriteString(first.Text)
	total = utf8.RuneCountInString(first.Text)
	for _, s := range window[1:] {
		l := utf8.RuneCountInString(s.Text) + 1
		if total+l > c.cfg.MaxChars {
			break
		}
		b.WriteByte(' ')
		b.WriteString(s.Text)
		total += l
		kept++
	}
	out := make([]Sentence, kept)
	copy(out, window[:kept])
	out[0] = first
	return out, b.String()
}

func ChunkID(teachingID string, spanStart, spanEnd int) string {
	return b3.Hash(teachingID, strconv.Itoa(spanStart), strconv.Itoa(spanEnd))
}
