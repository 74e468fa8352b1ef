package teachings

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"teachings/logger"
)

type (
	Embedder interface {
		Embed(ctx context.Context, text string) ([]float32, error)
		EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	}

	// Index is the similarity store. Query returns candidates ordered by
	// descending similarity, embeddings included.
	Index interface {
		Upsert(ctx context.Context, chunks []IndexedChunk) error
		Query(ctx context.Context, vector []float32, fetchK int) ([]ScoredChunk, error)
		Clear(ctx context.Context) error
	}

	VideoResolver interface {
		Resolve(teachingName string) (VideoRef, bool)
	}

	Service struct {
		idx     Index
		emb     Embedder
		videos  VideoResolver
		log     *logger.Logger
		aligner Aligner
		limiter *rate.Limiter
		backoff time.Duration
	}

	Option func(*Service)
)

// WithRateLimit caps embedding requests per second across all workers.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Service) {
		if perSecond <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetryInterval sets the first backoff delay between embedding attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Service) { s.backoff = d }
}

func WithAligner(a Aligner) Option {
	return func(s *Service) { s.aligner = a }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(idx Index, emb Embedder, videos VideoResolver, opts ...Option) *Service {
	s := &Service{
		idx:     idx,
		emb:     emb,
		videos:  videos,
		log:     logger.Nop(),
		aligner: NewAligner(),
		limiter: rate.NewLimiter(rate.Inf, 0),
		backoff: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	if s.videos == nil {
		s.videos = VideoCatalog{}
	}
	s.log = s.log.With("service", "Teachings")
	return s
}

// Align maps an answer back onto the retrieved chunks. A nil result means
// the answer could not be pinpointed and callers must not seek.
func (s *Service) Align(answer string, result RetrievalResult) *AlignmentResult {
	return s.aligner.Align(answer, result)
}
