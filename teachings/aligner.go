package teachings

import "strings"

// Scorer rates how much of b is reflected in a. Higher is better; zero means
// no evidence.
type Scorer interface {
	Score(a, b string) float64
}

// WordOverlap counts the distinct lowercase whitespace tokens shared by both
// texts.
type WordOverlap struct{}

func (WordOverlap) Score(a, b string) float64 {
	wa := wordSet(a)
	if len(wa) == 0 {
		return 0
	}
	n := 0
	for w := range wordSet(b) {
		if wa[w] {
			n++
		}
	}
	return float64(n)
}

func wordSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}

type Aligner struct {
	Scorer Scorer
	// SectionSize is the number of sentences per scored sub-section.
	SectionSize int
}

func NewAligner() Aligner {
	return Aligner{Scorer: WordOverlap{}, SectionSize: 1}
}

// Align picks the chunk the answer was most likely drawn from, then the
// sub-section inside it, and returns that sub-section's start in whole
// seconds. It returns nil when nothing overlaps.
func (a Aligner) Align(answer string, result RetrievalResult) *AlignmentResult {
	if strings.TrimSpace(answer) == "" || result.Empty() {
		return nil
	}
	scorer := a.Scorer
	if scorer == nil {
		scorer = WordOverlap{}
	}
	size := a.SectionSize
	if size < 1 {
		size = 1
	}

	best, bestScore := -1, 0.0
	for i, c := range result.Chunks {
		if sc := scorer.Score(answer, c.Text); sc > bestScore {
			best, bestScore = i, sc
		}
	}
	if best == -1 {
		return nil
	}
	chunk := result.Chunks[best]

	res := &AlignmentResult{
		ChunkID:          chunk.ID,
		TeachingID:       chunk.TeachingID,
		SentenceIndex:    chunk.SpanStart,
		MatchedTimestamp: chunk.StartSeconds(),
		Score:            bestScore,
		Video:            chunk.Video,
	}

	sectionScore := 0.0
	for from := 0; from < len(chunk.Sentences); from += size {
		to := min(from+size, len(chunk.Sentences))
		section := chunk.Sentences[from:to]
		texts := make([]string, len(section))
		for i, s := range section {
			texts[i] = s.Text
		}
		if sc := scorer.Score(answer, strings.Join(texts, " ")); sc > sectionScore {
			sectionScore = sc
			res.SentenceIndex = section[0].Index
			res.MatchedTimestamp = section[0].StartMs / 1000
		}
	}
	return res
}
