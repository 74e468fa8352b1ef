package transcripts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"teachings/teachings"
	"teachings/whisperx"
)

func TestReadCSVFuzzyColumns(t *testing.T) {
	raw := "Start Time,End Time,Transcript\n" +
		"0.0,2.5,Welcome everyone.\n" +
		"2.5,4.0,\n" +
		"4.0,6.0,Let us begin.\n"
	tr, err := ReadCSV(strings.NewReader(raw), "DC Retreat")
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(tr.Rows) != 2 {
		t.Fatalf("rows: want=2 got=%d", len(tr.Rows))
	}
	if tr.Rows[1].Start != "4.0" || tr.Rows[1].End != "6.0" || tr.Rows[1].Text != "Let us begin." {
		t.Fatalf("row: got=%+v", tr.Rows[1])
	}
	if tr.Rows[0].TeachingID != "DC Retreat" {
		t.Fatalf("teaching id: got=%q", tr.Rows[0].TeachingID)
	}
}

func TestReadCSVLongestColumnFallback(t *testing.T) {
	raw := "start,speaker,words\n" +
		"00:01,HH,This is the teaching text.\n" +
		"00:05,HH,And more of it.\n"
	tr, err := ReadCSV(strings.NewReader(raw), "x")
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if tr.Rows[0].Text != "This is the teaching text." {
		t.Fatalf("text column: got=%q", tr.Rows[0].Text)
	}
	// no end column: ends chain to the next start
	if tr.Rows[0].End != "00:05" || tr.Rows[1].End != "00:05" {
		t.Fatalf("ends: got=%q, %q", tr.Rows[0].End, tr.Rows[1].End)
	}
}

func TestReadCSVWithoutStartIsMalformed(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("text\nhello there\n"), "x")
	if !errors.Is(err, teachings.ErrMalformedTranscript) {
		t.Fatalf("want ErrMalformedTranscript, got %v", err)
	}
	_, err = ReadCSV(strings.NewReader(""), "x")
	if !errors.Is(err, teachings.ErrMalformedTranscript) {
		t.Fatalf("empty: want ErrMalformedTranscript, got %v", err)
	}
}

func TestLoadDirDedupAndNames(t *testing.T) {
	dir := t.TempDir()
	csv := "start,end,text\n0,1,Hello there.\n"
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("A Session Transcription.csv", csv)
	write("B copy.csv", csv)
	write("C.json", `{"segments":[{"text":"Hi.","start":0,"end":1}]}`)
	write("notes.md", "ignored")
	write("broken.csv", "text\nno times\n")

	res, err := LoadDir(dir, nil)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(res.Transcripts) != 2 {
		t.Fatalf("transcripts: want=2 got=%d", len(res.Transcripts))
	}
	if res.Transcripts[0].TeachingID != "A Session Transcription" {
		t.Fatalf("name: got=%q", res.Transcripts[0].TeachingID)
	}
	if res.Transcripts[1].TeachingID != "C" {
		t.Fatalf("name: got=%q", res.Transcripts[1].TeachingID)
	}
	if len(res.Skipped) != 2 {
		t.Fatalf("skipped: want=2 got=%+v", res.Skipped)
	}
}

func TestLoadDirSkipsNonTranscriptJSON(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"Day One.json":       `{"segments":[{"text":"Hi.","start":0,"end":1}]}`,
		"video_mapping.json": `{"Day One": {"video_url": "https://v/1.mp4"}}`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	res, err := LoadDir(dir, nil)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(res.Transcripts) != 1 || res.Transcripts[0].TeachingID != "Day One" {
		t.Fatalf("transcripts: got=%+v", res.Transcripts)
	}
	if len(res.Skipped) != 1 || !strings.HasSuffix(res.Skipped[0].Path, "video_mapping.json") {
		t.Fatalf("skipped: got=%+v", res.Skipped)
	}
	if _, err := LoadFile(filepath.Join(dir, "video_mapping.json")); !errors.Is(err, whisperx.ErrNoSegments) {
		t.Fatalf("want ErrNoSegments, got %v", err)
	}
}
