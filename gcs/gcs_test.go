package gcs

import (
	"testing"

	"teachings/teachings"
)

func TestVideoEntries(t *testing.T) {
	got := VideoEntries("archive-assistant", []string{
		"videos/",
		"videos/DC_Retreat_Day_1.mp4",
		"videos/notes.txt",
		"videos/Session%2010.MOV",
	})
	if len(got) != 2 {
		t.Fatalf("entries: want=2 got=%+v", got)
	}
	if got[0].Name != "DC Retreat Day 1" {
		t.Fatalf("name: got=%q", got[0].Name)
	}
	if got[0].VideoURL != "https://storage.googleapis.com/archive-assistant/videos/DC_Retreat_Day_1.mp4" {
		t.Fatalf("url: got=%s", got[0].VideoURL)
	}
	if got[0].GCSPath != "videos/DC_Retreat_Day_1.mp4" {
		t.Fatalf("gcs path: got=%s", got[0].GCSPath)
	}
	if got[1].Name != "Session 10" {
		t.Fatalf("unescaped name: got=%q", got[1].Name)
	}
}

func TestEntriesResolveTranscriptNames(t *testing.T) {
	catalog := teachings.NewVideoCatalog(VideoEntries("b", []string{
		"videos/Session_1.mp4",
		"videos/Session_10.mp4",
	}))
	ref, ok := catalog.Resolve("Session 10 Transcription (1).csv")
	if !ok || ref.GCSPath != "videos/Session_10.mp4" {
		t.Fatalf("resolve: ok=%v ref=%+v", ok, ref)
	}
}

func TestPublicURLEscapesSegments(t *testing.T) {
	got := PublicURL("b", "videos/a b.mp4")
	if got != "https://storage.googleapis.com/b/videos/a%20b.mp4" {
		t.Fatalf("url: got=%s", got)
	}
}
