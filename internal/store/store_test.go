package store

import (
	"path/filepath"
	"testing"

	"github.com/franz/onetagger/internal/tagger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRunSummary(t *testing.T) {
	s := openTestStore(t)
	if err := s.BeginRun("run-1", "/music", "itunes"); err != nil {
		t.Fatal(err)
	}

	accuracy := 0.95
	statuses := []tagger.TaggingStatus{
		{FilePath: "/music/a.mp3", State: tagger.StateOk, UsedPlatform: "itunes", Accuracy: &accuracy},
		{FilePath: "/music/b.mp3", State: tagger.StateNoMatch},
		{FilePath: "/music/c.mp3", State: tagger.StateError, Message: "boom"},
		{FilePath: "/music/d.mp3", State: tagger.StateSkipped, Message: "cancelled"},
	}
	for _, status := range statuses {
		if err := s.RecordStatus("run-1", status); err != nil {
			t.Fatal(err)
		}
	}

	summary, err := s.Summarize("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if summary.Ok != 1 || summary.NoMatch != 1 || summary.Errors != 1 || summary.Skipped != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestStoreLastMatch(t *testing.T) {
	s := openTestStore(t)
	if err := s.BeginRun("run-1", "/music", "itunes"); err != nil {
		t.Fatal(err)
	}

	platform, accuracy, ok, err := s.LastMatch("/music/a.mp3")
	if err != nil || ok {
		t.Fatalf("unexpected match: %q %f %v", platform, accuracy, err)
	}

	acc := 0.9
	if err := s.RecordStatus("run-1", tagger.TaggingStatus{
		FilePath: "/music/a.mp3", State: tagger.StateOk,
		UsedPlatform: "beatport", Accuracy: &acc,
	}); err != nil {
		t.Fatal(err)
	}

	platform, accuracy, ok, err = s.LastMatch("/music/a.mp3")
	if err != nil || !ok {
		t.Fatalf("expected match, got err=%v ok=%t", err, ok)
	}
	if platform != "beatport" || accuracy != 0.9 {
		t.Errorf("last match = %q %f", platform, accuracy)
	}
}
