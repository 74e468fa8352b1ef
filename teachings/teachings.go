package teachings

import "time"

type (
	// TranscriptRow is one utterance as supplied by a transcript source.
	// Times are kept raw so that parsing failures surface as
	// ErrMalformedTranscript instead of silently becoming zero.
	TranscriptRow struct {
		TeachingID string
		Text       string
		Start      string
		End        string
	}

	Transcript struct {
		TeachingID string
		Source     string
		Rows       []TranscriptRow
	}

	Sentence struct {
		Index      int    `json:"index"`
		Text       string `json:"text"`
		StartMs    uint64 `json:"start_ms"`
		EndMs      uint64 `json:"end_ms"`
		TeachingID string `json:"teaching_id"`
	}

	// Chunk is a window [SpanStart, SpanEnd) over a teaching's sentences.
	// Sentences holds only the sentences that made it into Text, which can be
	// fewer than the span when the window was truncated to the character cap.
	Chunk struct {
		ID         string     `json:"id"`
		TeachingID string     `json:"teaching_id"`
		Index      int        `json:"chunk_index"`
		Text       string     `json:"text"`
		StartMs    uint64     `json:"start_ms"`
		EndMs      uint64     `json:"end_ms"`
		SpanStart  int        `json:"span_start"`
		SpanEnd    int        `json:"span_end"`
		Sentences  []Sentence `json:"sentences"`
	}

	VideoRef struct {
		VideoURL string `json:"video_url"`
		GCSPath  string `json:"gcs_path"`
	}

	IndexedChunk struct {
		Chunk
		Embedding []float32 `json:"-"`
		Video     *VideoRef `json:"video,omitempty"`
	}

	ScoredChunk struct {
		IndexedChunk
		Score float64 `json:"score"`
	}

	RetrievalResult struct {
		Chunks []ScoredChunk `json:"chunks"`
	}

	AlignmentResult struct {
		ChunkID          string    `json:"chunk_id"`
		TeachingID       string    `json:"teaching_id"`
		SentenceIndex    int       `json:"sentence_index"`
		MatchedTimestamp uint64    `json:"matched_timestamp"`
		Score            float64   `json:"score"`
		Video            *VideoRef `json:"video,omitempty"`
	}

	IngestFailure struct {
		TeachingID string `json:"teaching_id"`
		ChunkID    string `json:"chunk_id,omitempty"`
		Kind       error  `json:"-"`
		Reason     string `json:"reason"`
	}

	IngestReport struct {
		RunID            string          `json:"run_id"`
		Teachings        int             `json:"teachings"`
		TeachingsSkipped int             `json:"teachings_skipped"`
		ChunksCreated    int             `json:"chunks_created"`
		ChunksFailed     int             `json:"chunks_failed"`
		UnresolvedVideos []string        `json:"unresolved_videos,omitempty"`
		Failures         []IngestFailure `json:"failures,omitempty"`
		Duration         time.Duration   `json:"duration"`
	}
)

// Empty reports whether the retrieval found nothing to answer from.
func (r RetrievalResult) Empty() bool {
	return len(r.Chunks) == 0
}

// StartSeconds is the chunk start rounded down to whole seconds.
func (c Chunk) StartSeconds() uint64 {
	return c.StartMs / 1000
}
