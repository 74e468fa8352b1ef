package teachings

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

const (
	DefaultMinSentenceChars = 30
	longSplitMinFraction    = 0.6
)

var thousand = decimal.NewFromInt(1000)

// Splitter turns a transcript into its flat sentence sequence.
type Splitter struct {
	// MinChars merges shorter fragments of one utterance into the preceding
	// sentence. Zero disables merging.
	MinChars int
	// MaxChars splits sentences that are longer on whitespace. Zero disables
	// splitting.
	MaxChars int
}

type span struct{ from, to int }

func (s Splitter) Split(t Transcript) ([]Sentence, error) {
	var (
		out       []Sentence
		prevStart uint64
		lastStart uint64
	)
	for n, row := range t.Rows {
		if row.TeachingID != "" && row.TeachingID != t.TeachingID {
			return nil, fmt.Errorf("%w: row %d: teaching %q in transcript %q", ErrMalformedTranscript, n, row.TeachingID, t.TeachingID)
		}
		startMs, err := ParseTimestamp(row.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: start: %w", ErrMalformedTranscript, n, err)
		}
		endMs, err := ParseTimestamp(row.End)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: end: %w", ErrMalformedTranscript, n, err)
		}
		if endMs < startMs {
			return nil, fmt.Errorf("%w: row %d: end %dms before start %dms", ErrMalformedTranscript, n, endMs, startMs)
		}
		if n > 0 && startMs < prevStart {
			return nil, fmt.Errorf("%w: row %d: start %dms before previous row start %dms", ErrMalformedTranscript, n, startMs, prevStart)
		}
		prevStart = startMs

		runes := []rune(strings.Join(strings.Fields(row.Text), " "))
		if len(runes) == 0 {
			continue
		}
		for _, sp := range s.spans(runes) {
			st := interpolate(startMs, endMs, sp.from, len(runes))
			en := interpolate(startMs, endMs, sp.to, len(runes))
			if st < lastStart {
				st = lastStart
			}
			if en < st {
				en = st
			}
			lastStart = st
			out = append(out, Sentence{
				Index:      len(out),
				Text:       string(runes[sp.from:sp.to]),
				StartMs:    st,
				EndMs:      en,
				TeachingID: t.TeachingID,
			})
		}
	}
	return out, nil
}

func (s Splitter) spans(runes []rune) []span {
	var merged []span
	for _, sp := range sentenceSpans(runes) {
		if s.MinChars > 0 && len(merged) > 0 && sp.to-sp.from < s.MinChars {
			merged[len(merged)-1].to = sp.to
			continue
		}
		merged = append(merged, sp)
	}
	if s.MaxChars <= 0 {
		return merged
	}
	var out []span
	for _, sp := range merged {
		out = append(out, splitLong(runes, sp, s.MaxChars)...)
	}
	return out
}

// sentenceSpans cuts after '.', '!' or '?' (plus an optional closing quote or
// bracket) when a space and an uppercase letter, digit, quote or opening
// bracket follow. runes must be whitespace-normalised.
func sentenceSpans(runes []rune) []span {
	var out []span
	from := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		j := i + 1
		if j < len(runes) && isCloser(runes[j]) {
			j++
		}
		if j+1 >= len(runes) || runes[j] != ' ' || !isOpener(runes[j+1]) {
			continue
		}
		out = append(out, span{from, j})
		from = j + 1
		i = j
	}
	if from < len(runes) {
		out = append(out, span{from, len(runes)})
	}
	return out
}

func splitLong(runes []rune, sp span, max int) []span {
	var out []span
	from := sp.from
	for sp.to-from > max {
		end := from + max
		for k := end; k > from; k-- {
			if runes[k] == ' ' {
				if float64(k-from) > float64(max)*longSplitMinFraction {
					end = k
				}
				break
			}
		}
		out = append(out, span{from, end})
		from = end
		for from < sp.to && runes[from] == ' ' {
			from++
		}
	}
	if from < sp.to {
		out = append(out, span{from, sp.to})
	}
	return out
}

func interpolate(startMs, endMs uint64, offset, total int) uint64 {
	if total == 0 || offset <= 0 {
		return startMs
	}
	if offset >= total {
		return endMs
	}
	return startMs + (endMs-startMs)*uint64(offset)/uint64(total)
}

func isTerminal(r rune) bool { return r == '.' || r == '!' || r == '?' }

func isCloser(r rune) bool { return r == ']' || r == ')' || r == '"' || r == '\'' }

func isOpener(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsDigit(r) || r == '"' || r == '\'' || r == '(' || r == '['
}

// ParseTimestamp parses plain seconds ("93.5") or clock time ("01:02:03.5",
// "02:03") into milliseconds.
func ParseTimestamp(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("missing timestamp")
	}
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", raw)
	}
	total := decimal.Zero
	for _, p := range parts {
		d, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: %w", raw, err)
		}
		if d.IsNegative() {
			return 0, fmt.Errorf("negative timestamp %q", raw)
		}
		total = total.Mul(decimal.NewFromInt(60)).Add(d)
	}
	ms := total.Mul(thousand).BigInt()
	if !ms.IsUint64() {
		return 0, fmt.Errorf("timestamp %q out of range", raw)
	}
	return ms.Uint64(), nil
}
