package teachings

import (
	"context"
	"fmt"
	"math"
	"strings"
)

type RetrieveOptions struct {
	K          int     `yaml:"k"`
	FetchK     int     `yaml:"fetch_k"`
	LambdaMult float64 `yaml:"lambda_mult"`
}

func DefaultRetrieveOptions() RetrieveOptions {
	return RetrieveOptions{K: 3, FetchK: 20, LambdaMult: 0.3}
}

func (o RetrieveOptions) Validate() error {
	if o.K < 1 {
		return fmt.Errorf("k must be >= 1, got %d", o.K)
	}
	if o.LambdaMult < 0 || o.LambdaMult > 1 || math.IsNaN(o.LambdaMult) {
		return fmt.Errorf("lambda_mult must be within [0, 1], got %v", o.LambdaMult)
	}
	return nil
}

// Retrieve returns up to K mutually dissimilar chunks for the query. An empty
// result with a nil error means there is nothing to answer from.
func (s *Service) Retrieve(ctx context.Context, query string, opts RetrieveOptions) (RetrievalResult, error) {
	if err := opts.Validate(); err != nil {
		return RetrievalResult{}, err
	}
	if opts.FetchK < opts.K {
		opts.FetchK = opts.K
	}
	if strings.TrimSpace(query) == "" {
		return RetrievalResult{}, nil
	}

	qv, err := s.emb.Embed(ctx, query)
	if err != nil {
		return RetrievalResult{}, fmt.Errorf("%w: embedding query: %w", ErrEmbeddingProvider, err)
	}
	candidates, err := s.idx.Query(ctx, qv, opts.FetchK)
	if err != nil {
		return RetrievalResult{}, fmt.Errorf("%w: querying index: %w", ErrIndexUnavailable, err)
	}

	selected := SelectMMR(qv, candidates, opts.K, opts.LambdaMult)
	s.log.Debug("retrieved",
		"candidates", len(candidates),
		"selected", len(selected),
		"k", opts.K,
		"fetch_k", opts.FetchK,
		"lambda_mult", opts.LambdaMult,
	)
	return RetrievalResult{Chunks: selected}, nil
}

// SelectMMR picks k candidates by maximal marginal relevance. candidates must
// be in index rank order; equal scores keep the earlier rank. Relevance is the
// cosine between the query and the candidate embedding; candidates without an
// embedding fall back to their index score.
func SelectMMR(query []float32, candidates []ScoredChunk, k int, lambda float64) []ScoredChunk {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	pool := make([]ScoredChunk, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		pool = append(pool, c)
	}

	rel := make([]float64, len(pool))
	for i, c := range pool {
		if len(c.Embedding) == 0 {
			rel[i] = c.Score
			continue
		}
		rel[i] = cosine(query, c.Embedding)
	}

	used := make([]bool, len(pool))
	maxSim := make([]float64, len(pool))
	selected := make([]ScoredChunk, 0, min(k, len(pool)))

	for len(selected) < k {
		best := -1
		bestVal := math.Inf(-1)
		for i := range pool {
			if used[i] {
				continue
			}
			val := lambda*rel[i] - (1-lambda)*maxSim[i]
			if val > bestVal {
				bestVal = val
				best = i
			}
		}
		if best == -1 {
			break
		}
		used[best] = true
		picked := pool[best]
		picked.Score = rel[best]
		selected = append(selected, picked)

		for i := range pool {
			if used[i] {
				continue
			}
			if sim := cosine(pool[i].Embedding, pool[best].Embedding); len(selected) == 1 || sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	return selected
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
