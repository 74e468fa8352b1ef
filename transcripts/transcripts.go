package transcripts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"teachings/b3"
	"teachings/logger"
	"teachings/teachings"
	"teachings/whisperx"
)

var (
	startColumns = map[string]bool{"starttime": true, "start": true, "start_seconds": true, "startsec": true}
	endColumns   = map[string]bool{"endtime": true, "end": true, "end_seconds": true, "endsec": true}
	textColumns  = map[string]bool{"transcript": true, "text": true, "content": true}
)

type (
	Skipped struct {
		Path   string `json:"path"`
		Reason string `json:"reason"`
	}

	Loaded struct {
		Transcripts []teachings.Transcript
		Skipped     []Skipped
	}
)

// LoadDir walks dir for .csv and whisperx .json transcripts. The teaching
// name is the file stem. Files with identical content are loaded once.
func LoadDir(dir string, log *logger.Logger) (Loaded, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("service", "Transcripts", "dir", dir)

	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".csv", ".json":
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return Loaded{}, fmt.Errorf("walking transcripts dir: %w", err)
	}
	sort.Strings(paths)

	var (
		res  Loaded
		seen = make(map[string]string, len(paths))
	)
	for _, p := range paths {
		hash, err := hashFile(p)
		if err != nil {
			return Loaded{}, err
		}
		if first, ok := seen[hash]; ok {
			log.Info("skipping duplicate transcript", "path", p, "duplicate_of", first)
			res.Skipped = append(res.Skipped, Skipped{Path: p, Reason: "duplicate of " + first})
			continue
		}
		seen[hash] = p

		t, err := LoadFile(p)
		if err != nil {
			log.Warn("skipping transcript", "path", p, "error", err)
			res.Skipped = append(res.Skipped, Skipped{Path: p, Reason: err.Error()})
			continue
		}
		res.Transcripts = append(res.Transcripts, t)
	}
	log.Info("transcripts loaded", "loaded", len(res.Transcripts), "skipped", len(res.Skipped))
	return res, nil
}

func hashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()
	return b3.Blake3HashFromFile(f)
}

// LoadFile reads one transcript, picking the decoder by extension.
func LoadFile(p string) (teachings.Transcript, error) {
	f, err := os.Open(p)
	if err != nil {
		return teachings.Transcript{}, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	name := TeachingName(p)
	var t teachings.Transcript
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		t, err = ReadCSV(f, name)
	case ".json":
		t, err = whisperx.Decode(f, name)
	default:
		err = fmt.Errorf("unsupported transcript type %q", filepath.Ext(p))
	}
	if err != nil {
		return teachings.Transcript{}, fmt.Errorf("%s: %w", filepath.Base(p), err)
	}
	t.Source = p
	return t, nil
}

// TeachingName is the file name without directory or extension.
func TeachingName(p string) string {
	base := filepath.Base(p)
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}

// ReadCSV decodes a header-first CSV. Column names are matched loosely; when
// no text column is named the column with the longest first value is used.
// A missing end column takes each row's end from the next row's start.
func ReadCSV(r io.Reader, teachingID string) (teachings.Transcript, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return teachings.Transcript{}, fmt.Errorf("%w: empty csv", teachings.ErrMalformedTranscript)
	}
	if err != nil {
		return teachings.Transcript{}, fmt.Errorf("reading csv header: %w", err)
	}
	records, err := cr.ReadAll()
	if err != nil {
		return teachings.Transcript{}, fmt.Errorf("reading csv: %w", err)
	}

	startCol, endCol, textCol := -1, -1, -1
	for i, h := range header {
		k := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))), " ", "")
		switch {
		case startCol == -1 && startColumns[k]:
			startCol = i
		case endCol == -1 && endColumns[k]:
			endCol = i
		case textCol == -1 && textColumns[k]:
			textCol = i
		}
	}
	if startCol == -1 {
		return teachings.Transcript{}, fmt.Errorf("%w: no start time column in %v", teachings.ErrMalformedTranscript, header)
	}
	if textCol == -1 {
		textCol = longestColumn(records, startCol, endCol)
	}
	if textCol == -1 {
		return teachings.Transcript{}, fmt.Errorf("%w: no text column in %v", teachings.ErrMalformedTranscript, header)
	}

	t := teachings.Transcript{TeachingID: teachingID}
	for _, rec := range records {
		text := strings.TrimSpace(field(rec, textCol))
		if text == "" {
			continue
		}
		t.Rows = append(t.Rows, teachings.TranscriptRow{
			TeachingID: teachingID,
			Text:       text,
			Start:      strings.TrimSpace(field(rec, startCol)),
			End:        strings.TrimSpace(field(rec, endCol)),
		})
	}
	if endCol == -1 {
		for i := range t.Rows {
			if i+1 < len(t.Rows) {
				t.Rows[i].End = t.Rows[i+1].Start
			} else {
				t.Rows[i].End = t.Rows[i].Start
			}
		}
	}
	return t, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func longestColumn(records [][]string, skip ...int) int {
	if len(records) == 0 {
		return -1
	}
	best, bestLen := -1, 0
	for i, v := range records[0] {
		skipped := false
		for _, s := range skip {
			if s == i {
				skipped = true
			}
		}
		if skipped {
			continue
		}
		if l := len(strings.TrimSpace(v)); l > bestLen {
			best, bestLen = i, l
		}
	}
	return best
}
