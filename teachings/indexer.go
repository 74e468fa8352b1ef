package teachings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"teachings/logger"
)

type IngestConfig struct {
	Chunk ChunkConfig
	// Reset clears the index before ingesting. Required whenever the window
	// or step size changes.
	Reset            bool
	Workers          int
	BatchSize        int
	BatchMaxChars    int
	Attempts         int
	MinSentenceChars int
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Chunk:            DefaultChunkConfig(),
		Workers:          4,
		BatchSize:        64,
		BatchMaxChars:    800_000,
		Attempts:         5,
		MinSentenceChars: DefaultMinSentenceChars,
	}
}

func (c IngestConfig) withDefaults() IngestConfig {
	d := DefaultIngestConfig()
	if c.Workers < 1 {
		c.Workers = d.Workers
	}
	if c.BatchSize < 1 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchMaxChars < 1 {
		c.BatchMaxChars = d.BatchMaxChars
	}
	if c.Attempts < 1 {
		c.Attempts = d.Attempts
	}
	if c.MinSentenceChars < 0 {
		c.MinSentenceChars = 0
	}
	return c
}

type ingestRun struct {
	mu     sync.Mutex
	report IngestReport
}

func (r *ingestRun) teaching() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Teachings++
}

func (r *ingestRun) skipTeaching(teachingID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.TeachingsSkipped++
	r.report.Failures = append(r.report.Failures, IngestFailure{
		TeachingID: teachingID,
		Kind:       ErrMalformedTranscript,
		Reason:     err.Error(),
	})
}

func (r *ingestRun) unresolved(teachingID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.UnresolvedVideos = append(r.report.UnresolvedVideos, teachingID)
}

func (r *ingestRun) chunksFailed(chunks []Chunk, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.ChunksFailed += len(chunks)
	for _, c := range chunks {
		r.report.Failures = append(r.report.Failures, IngestFailure{
			TeachingID: c.TeachingID,
			ChunkID:    c.ID,
			Kind:       ErrEmbeddingProvider,
			Reason:     err.Error(),
		})
	}
}

func (r *ingestRun) created(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.ChunksCreated += n
}

// Ingest splits, chunks, embeds and upserts every transcript. Bad transcripts
// and chunks whose embedding keeps failing are recorded in the report; an
// invalid configuration or an unreachable index aborts the run.
func (s *Service) Ingest(ctx context.Context, transcripts []Transcript, cfg IngestConfig) (IngestReport, error) {
	began := time.Now()
	run := &ingestRun{report: IngestReport{RunID: uuid.NewString()}}
	cfg = cfg.withDefaults()

	chunker, err := NewChunker(cfg.Chunk)
	if err != nil {
		return run.report, err
	}
	log := s.log.With("run_id", run.report.RunID)

	if cfg.Reset {
		if err := s.idx.Clear(ctx); err != nil {
			return run.report, fmt.Errorf("%w: clearing index: %w", ErrIndexUnavailable, err)
		}
		log.Info("index cleared")
	}

	splitter := Splitter{MinChars: cfg.MinSentenceChars, MaxChars: cfg.Chunk.MaxChars}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, t := range transcripts {
		g.Go(func() error {
			return s.ingestTeaching(gctx, log, run, t, splitter, chunker, cfg)
		})
	}
	err = g.Wait()

	report := run.report
	report.Duration = time.Since(began)
	sort.Strings(report.UnresolvedVideos)
	sort.SliceStable(report.Failures, func(i, j int) bool {
		if report.Failures[i].TeachingID != report.Failures[j].TeachingID {
			return report.Failures[i].TeachingID < report.Failures[j].TeachingID
		}
		return report.Failures[i].ChunkID < report.Failures[j].ChunkID
	})
	if err != nil {
		log.Error("ingestion aborted", "error", err, "chunks_created", report.ChunksCreated)
		return report, err
	}

	log.Info("ingestion finished",
		"teachings", report.Teachings,
		"teachings_skipped", report.TeachingsSkipped,
		"chunks_created", report.ChunksCreated,
		"chunks_failed", report.ChunksFailed,
		"unresolved_videos", len(report.UnresolvedVideos),
		"duration", report.Duration.String(),
	)
	return report, nil
}

func (s *Service) ingestTeaching(ctx context.Context, log *logger.Logger, run *ingestRun, t Transcript, splitter Splitter, chunker Chunker, cfg IngestConfig) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log = log.With("teaching", t.TeachingID)

	sentences, err := splitter.Split(t)
	if err != nil {
		log.Warn("skipping teaching", "error", err)
		run.skipTeaching(t.TeachingID, err)
		return nil
	}
	run.teaching()

	chunks := chunker.Chunk(t.TeachingID, sentences)
	if len(chunks) == 0 {
		log.Warn("teaching has no sentences")
		return nil
	}

	var ref *VideoRef
	if v, ok := s.videos.Resolve(t.TeachingID); ok {
		ref = &v
	} else {
		log.Warn("no video for teaching", "error", ErrUnresolvedVideoMapping)
		run.unresolved(t.TeachingID)
	}

	for _, batch := range embedBatches(chunks, cfg.BatchSize, cfg.BatchMaxChars) {
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := s.embedWithRetry(ctx, log, texts, cfg.Attempts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("skipping chunks after embedding retries", "chunks", len(batch), "error", err)
			run.chunksFailed(batch, err)
			continue
		}

		indexed := make([]IndexedChunk, len(batch))
		for i, c := range batch {
			indexed[i] = IndexedChunk{Chunk: c, Embedding: vectors[i], Video: ref}
		}
		if err := s.idx.Upsert(ctx, indexed); err != nil {
			return fmt.Errorf("%w: upserting %q: %w", ErrIndexUnavailable, t.TeachingID, err)
		}
		run.created(len(indexed))
	}
	log.Debug("teaching indexed", "sentences", len(sentences), "chunks", len(chunks))
	return nil
}

func (s *Service) embedWithRetry(ctx context.Context, log *logger.Logger, texts []string, attempts int) ([][]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.backoff
	b.MaxInterval = 30 * time.Second

	vectors, err := backoff.Retry(ctx, func() ([][]float32, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		v, err := s.emb.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		if len(v) != len(texts) {
			return nil, fmt.Errorf("provider returned %d vectors for %d inputs", len(v), len(texts))
		}
		return v, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn("embedding retrying", "inputs", len(texts), "sleep", d.String(), "error", err)
		}),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingProvider, err)
	}
	return vectors, nil
}

// embedBatches groups consecutive chunks so that no request exceeds either
// limit. A chunk larger than maxChars still gets a batch of its own.
func embedBatches(chunks []Chunk, size, maxChars int) [][]Chunk {
	var (
		out   [][]Chunk
		cur   []Chunk
		chars int
	)
	for _, c := range chunks {
		l := len(c.Text)
		if len(cur) > 0 && (len(cur) >= size || chars+l > maxChars) {
			out = append(out, cur)
			cur, chars = nil, 0
		}
		cur = append(cur, c)
		chars += l
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
