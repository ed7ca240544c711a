package platforms

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/franz/onetagger/internal/tagger"
)

const itunesSearchPayload = `{
	"resultCount": 2,
	"results": [
		{
			"wrapperType": "track",
			"kind": "song",
			"trackId": 414113240,
			"collectionId": 414113160,
			"artistName": "deadmau5",
			"collectionName": "For Lack of a Better Name",
			"trackName": "Strobe",
			"trackNumber": 10,
			"trackCount": 11,
			"discNumber": 1,
			"trackViewUrl": "https://music.apple.com/us/album/strobe/414113160",
			"trackTimeMillis": 634573,
			"primaryGenreName": "Dance",
			"releaseDate": "2009-09-22T07:00:00Z",
			"artworkUrl100": "https://example.com/art.jpg"
		},
		{
			"wrapperType": "track",
			"kind": "podcast",
			"trackId": 1,
			"artistName": "someone",
			"trackName": "Strobe Talk"
		}
	]
}`

func testITunes(t *testing.T, handler http.HandlerFunc) *itunesSource {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &itunesSource{http: newHTTPClient(server.URL, 0)}
}

func TestITunesMatchTrack(t *testing.T) {
	source := testITunes(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("term") == "" {
			t.Error("missing term query")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(itunesSearchPayload))
	})

	info := &tagger.AudioFileInfo{Path: "/m/strobe.mp3", Title: "Strobe", Artist: "Deadmau5"}
	matches, err := source.MatchTrack(info, tagger.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	m := matches[0]
	if m.Accuracy < 0.99 {
		t.Errorf("accuracy = %f", m.Accuracy)
	}
	if m.Track.Album != "For Lack of a Better Name" {
		t.Errorf("album = %q", m.Track.Album)
	}
	if m.Track.ReleaseDate == nil || m.Track.ReleaseDate.Year() != 2009 {
		t.Errorf("release date = %v", m.Track.ReleaseDate)
	}
	if m.Track.Duration != 634573*time.Millisecond {
		t.Errorf("duration = %v", m.Track.Duration)
	}
}

func TestITunesRateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	source := testITunes(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(itunesSearchPayload))
	})

	info := &tagger.AudioFileInfo{Path: "/m/strobe.mp3", Title: "Strobe", Artist: "Deadmau5"}
	start := time.Now()
	matches, err := source.MatchTrack(info, tagger.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if elapsed := time.Since(start); elapsed < 2*time.Second {
		t.Errorf("matcher returned after %v, expected to honor Retry-After of 2s", elapsed)
	}
	if calls.Load() != 2 {
		t.Errorf("server saw %d calls, want 2", calls.Load())
	}
}

func TestITunesServerErrorIsTransient(t *testing.T) {
	source := testITunes(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	info := &tagger.AudioFileInfo{Path: "/m/strobe.mp3", Title: "Strobe", Artist: "Deadmau5"}
	_, err := source.MatchTrack(info, tagger.DefaultConfig())
	if err == nil {
		t.Fatal("expected error")
	}
	var transport *tagger.TransportError
	if !errors.As(err, &transport) || !transport.Transient {
		t.Errorf("expected transient transport error, got %v", err)
	}
}
