package teachings

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	copySuffixRE   = regexp.MustCompile(`\s*\(\s*\d+\s*\)\s*$`)
	mediaExtRE     = regexp.MustCompile(`(?i)\.(csv|txt|json|mp4|mov|mkv|avi|m4v)$`)
	trailingTokens = map[string]bool{"transcription": true, "transcript": true}
)

type (
	VideoEntry struct {
		Name     string `json:"name"`
		VideoURL string `json:"video_url"`
		GCSPath  string `json:"gcs_path"`
	}

	catalogEntry struct {
		VideoEntry
		tokens []string
		joined string
	}

	// VideoCatalog resolves teaching names to videos, tolerating case,
	// punctuation, file extensions and "Transcription" style suffixes.
	VideoCatalog struct {
		entries []catalogEntry
	}
)

var _ VideoResolver = VideoCatalog{}

func NewVideoCatalog(entries []VideoEntry) VideoCatalog {
	c := VideoCatalog{entries: make([]catalogEntry, 0, len(entries))}
	for _, e := range entries {
		toks := nameTokens(e.Name)
		if len(toks) == 0 {
			continue
		}
		c.entries = append(c.entries, catalogEntry{VideoEntry: e, tokens: toks, joined: strings.Join(toks, "")})
	}
	return c
}

// LoadVideoMapping reads a JSON object keyed by teaching name. Values carry
// video_url and optionally gcs_path and video_filename.
func LoadVideoMapping(r io.Reader) ([]VideoEntry, error) {
	var raw map[string]struct {
		VideoURL      string `json:"video_url"`
		GCSPath       string `json:"gcs_path"`
		VideoFilename string `json:"video_filename"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding video mapping: %w", err)
	}
	out := make([]VideoEntry, 0, len(raw))
	for name, v := range raw {
		gcsPath := v.GCSPath
		if gcsPath == "" && v.VideoFilename != "" {
			gcsPath = v.VideoFilename
		}
		out = append(out, VideoEntry{Name: name, VideoURL: v.VideoURL, GCSPath: gcsPath})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c VideoCatalog) Len() int { return len(c.entries) }

func (c VideoCatalog) Resolve(teachingName string) (VideoRef, bool) {
	toks := nameTokens(teachingName)
	if len(toks) == 0 || len(c.entries) == 0 {
		return VideoRef{}, false
	}
	joined := strings.Join(toks, "")

	for _, e := range c.entries {
		if e.joined == joined {
			return e.ref(), true
		}
	}

	best, bestDiff := -1, 0
	for i, e := range c.entries {
		if !containsRun(e.tokens, toks) && !containsRun(toks, e.tokens) {
			continue
		}
		diff := len(e.tokens) - len(toks)
		if diff < 0 {
			diff = -diff
		}
		if best == -1 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	if best != -1 {
		return c.entries[best].ref(), true
	}

	limit := max(1, len([]rune(joined))/10)
	best, bestDist := -1, 0
	for i, e := range c.entries {
		d := levenshtein(joined, e.joined)
		if d > limit {
			continue
		}
		if best == -1 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best != -1 {
		return c.entries[best].ref(), true
	}
	return VideoRef{}, false
}

func (e catalogEntry) ref() VideoRef {
	return VideoRef{VideoURL: e.VideoURL, GCSPath: e.GCSPath}
}

// NormalizeName is the comparison form of a teaching or video name.
func NormalizeName(name string) string {
	return strings.Join(nameTokens(name), " ")
}

func nameTokens(name string) []string {
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	name = mediaExtRE.ReplaceAllString(name, "")
	name = copySuffixRE.ReplaceAllString(name, "")
	toks := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for len(toks) > 0 && trailingTokens[toks[len(toks)-1]] {
		toks = toks[:len(toks)-1]
	}
	return toks
}

// containsRun reports whether needle occurs as a contiguous token run in
// hay. Whole tokens only, so "session 1" does not match "session 10".
func containsRun(hay, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(hay) {
		return false
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		match := true
		for j := range needle {
			if hay[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
