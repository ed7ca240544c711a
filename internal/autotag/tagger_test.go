package autotag

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/bogem/id3v2/v2"

	"github.com/franz/onetagger/internal/platforms"
	"github.com/franz/onetagger/internal/tag"
	"github.com/franz/onetagger/internal/tagger"
)

// fakeBuilder wires an in-process source into the registry under any id
type fakeBuilder struct {
	id         string
	maxThreads int
	buildErr   error
	source     tagger.AutotaggerSource
}

func (b *fakeBuilder) Info() tagger.PlatformInfo {
	return tagger.PlatformInfo{ID: b.id, Name: b.id, MaxThreads: b.maxThreads}
}

func (b *fakeBuilder) Build(_ *tagger.TaggerConfig) (tagger.AutotaggerSource, error) {
	if b.buildErr != nil {
		return nil, b.buildErr
	}
	return b.source, nil
}

type fakeSource struct {
	id    string
	calls atomic.Int32
	match func(info *tagger.AudioFileInfo) ([]tagger.TrackMatch, error)
}

func (s *fakeSource) MatchTrack(info *tagger.AudioFileInfo, _ *tagger.TaggerConfig) ([]tagger.TrackMatch, error) {
	s.calls.Add(1)
	return s.match(info)
}

func okMatch(platform, album string, accuracy float64) []tagger.TrackMatch {
	return []tagger.TrackMatch{{
		Accuracy: accuracy,
		Track: tagger.Track{
			PlatformID: platform,
			TrackID:    "1",
			Title:      "Strobe",
			Artists:    []string{"deadmau5"},
			Album:      album,
		},
	}}
}

// writeTestWAV creates a tagged WAV file the write-back step can reopen
func writeTestWAV(t *testing.T, dir, name, title, artist string) string {
	t.Helper()
	id3tag := id3v2.NewEmptyTag()
	id3tag.SetVersion(4)
	id3tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	if title != "" {
		id3tag.SetTitle(title)
	}
	if artist != "" {
		id3tag.SetArtist(artist)
	}
	var id3buf bytes.Buffer
	if _, err := id3tag.WriteTo(&id3buf); err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	body.WriteString("WAVE")
	writeChunk := func(id string, data []byte) {
		body.WriteString(id)
		binary.Write(&body, binary.LittleEndian, uint32(len(data)))
		body.Write(data)
		if len(data)%2 == 1 {
			body.WriteByte(0)
		}
	}
	writeChunk("fmt ", make([]byte, 16))
	writeChunk("data", []byte{0, 0, 0, 0})
	writeChunk("id3 ", id3buf.Bytes())

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runTagger(t *testing.T, config *tagger.TaggerConfig, registry *platforms.Registry, files []string) []tagger.TaggingStatus {
	t.Helper()
	tg := NewTagger(config, registry)
	go tg.Run(files)
	var statuses []tagger.TaggingStatus
	for status := range tg.Statuses() {
		statuses = append(statuses, status)
	}
	return statuses
}

func baseConfig(platformIDs ...string) *tagger.TaggerConfig {
	config := tagger.DefaultConfig()
	config.Platforms = platformIDs
	config.Threads = 2
	config.EnableTitle = true
	config.EnableArtist = true
	config.EnableAlbum = true
	config.Overwrite = true
	return config
}

func TestTaggerHappyPath(t *testing.T) {
	dir := t.TempDir()
	path := writeTestWAV(t, dir, "strobe.wav", "Strobe", "Deadmau5")

	registry := platforms.NewEmptyRegistry()
	registry.Register(&fakeBuilder{id: "itunes", maxThreads: 4, source: &fakeSource{
		id: "itunes",
		match: func(info *tagger.AudioFileInfo) ([]tagger.TrackMatch, error) {
			return okMatch("itunes", "For Lack Of A Better Name", 1.0), nil
		},
	}})

	statuses := runTagger(t, baseConfig("itunes"), registry, []string{path})
	if len(statuses) != 1 {
		t.Fatalf("got %d statuses, want 1", len(statuses))
	}
	s := statuses[0]
	if s.State != tagger.StateOk {
		t.Fatalf("state = %s (%s)", s.State, s.Message)
	}
	if s.UsedPlatform != "itunes" {
		t.Errorf("used_platform = %q", s.UsedPlatform)
	}
	if s.Accuracy == nil || *s.Accuracy < 0.99 {
		t.Errorf("accuracy = %v", s.Accuracy)
	}

	// Album must have been written back
	handle, err := tag.Load(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := handle.Get(tag.Album); len(got) != 1 || got[0] != "For Lack Of A Better Name" {
		t.Errorf("album after write-back = %v", got)
	}
}

func TestTaggerFailover(t *testing.T) {
	dir := t.TempDir()
	path := writeTestWAV(t, dir, "strobe.wav", "Strobe", "Deadmau5")

	beatport := &fakeSource{id: "beatport", match: func(*tagger.AudioFileInfo) ([]tagger.TrackMatch, error) {
		return nil, nil
	}}
	itunes := &fakeSource{id: "itunes", match: func(*tagger.AudioFileInfo) ([]tagger.TrackMatch, error) {
		return okMatch("itunes", "Album", 0.95), nil
	}}

	registry := platforms.NewEmptyRegistry()
	registry.Register(&fakeBuilder{id: "beatport", maxThreads: 2, source: beatport})
	registry.Register(&fakeBuilder{id: "itunes", maxThreads: 2, source: itunes})

	statuses := runTagger(t, baseConfig("beatport", "itunes"), registry, []string{path})
	okCount := 0
	for _, s := range statuses {
		if s.State == tagger.StateOk {
			okCount++
			if s.UsedPlatform != "itunes" {
				t.Errorf("used_platform = %q, want itunes", s.UsedPlatform)
			}
		}
	}
	if okCount != 1 {
		t.Errorf("ok statuses = %d, want exactly 1", okCount)
	}
	if beatport.calls.Load() != 1 || itunes.calls.Load() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", beatport.calls.Load(), itunes.calls.Load())
	}
}

func TestTaggerShortCircuitsOnMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTestWAV(t, dir, "strobe.wav", "Strobe", "Deadmau5")

	first := &fakeSource{id: "first", match: func(*tagger.AudioFileInfo) ([]tagger.TrackMatch, error) {
		return okMatch("first", "Album", 1.0), nil
	}}
	second := &fakeSource{id: "second", match: func(*tagger.AudioFileInfo) ([]tagger.TrackMatch, error) {
		return okMatch("second", "Other", 1.0), nil
	}}

	registry := platforms.NewEmptyRegistry()
	registry.Register(&fakeBuilder{id: "first", maxThreads: 2, source: first})
	registry.Register(&fakeBuilder{id: "second", maxThreads: 2, source: second})

	statuses := runTagger(t, baseConfig("first", "second"), registry, []string{path})
	if len(statuses) != 1 || statuses[0].State != tagger.StateOk {
		t.Fatalf("statuses = %+v", statuses)
	}
	if second.calls.Load() != 0 {
		t.Errorf("second platform consulted %d times after a match", second.calls.Load())
	}
}

func TestTaggerUnauthorizedDisablesPlatform(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		paths = append(paths, writeTestWAV(t, dir, fmt.Sprintf("f%d.wav", i), "Strobe", "Deadmau5"))
	}

	locked := &fakeSource{id: "locked", match: func(*tagger.AudioFileInfo) ([]tagger.TrackMatch, error) {
		return nil, &tagger.UnauthorizedError{Platform: "locked", Detail: "expired"}
	}}
	fallback := &fakeSource{id: "fallback", match: func(*tagger.AudioFileInfo) ([]tagger.TrackMatch, error) {
		return okMatch("fallback", "Album", 1.0), nil
	}}

	registry := platforms.NewEmptyRegistry()
	registry.Register(&fakeBuilder{id: "locked", maxThreads: 1, source: locked})
	registry.Register(&fakeBuilder{id: "fallback", maxThreads: 1, source: fallback})

	statuses := runTagger(t, baseConfig("locked", "fallback"), registry, paths)
	okCount := 0
	for _, s := range statuses {
		if s.State == tagger.StateOk {
			okCount++
		}
	}
	if okCount != 3 {
		t.Errorf("ok statuses = %d, want 3", okCount)
	}
	// First failure disables the platform; remaining files skip it
	if locked.calls.Load() != 1 {
		t.Errorf("locked platform called %d times, want 1", locked.calls.Load())
	}
}

func TestTaggerMatcherPanicIsContained(t *testing.T) {
	dir := t.TempDir()
	bad := writeTestWAV(t, dir, "bad.wav", "Strobe", "Deadmau5")
	good := writeTestWAV(t, dir, "good.wav", "Strobe", "Deadmau5")

	source := &fakeSource{id: "flaky", match: func(info *tagger.AudioFileInfo) ([]tagger.TrackMatch, error) {
		if filepath.Base(info.Path) == "bad.wav" {
			panic("matcher exploded")
		}
		return okMatch("flaky", "Album", 1.0), nil
	}}

	registry := platforms.NewEmptyRegistry()
	registry.Register(&fakeBuilder{id: "flaky", maxThreads: 1, source: source})

	statuses := runTagger(t, baseConfig("flaky"), registry, []string{bad, good})
	byPath := map[string]tagger.TaggingState{}
	for _, s := range statuses {
		byPath[s.FilePath] = s.State
	}
	if byPath[good] != tagger.StateOk {
		t.Errorf("good file state = %s", byPath[good])
	}
	// The panic is reported for the failing file only
	if byPath[bad] == tagger.StateOk {
		t.Errorf("bad file state = %s, expected a failure", byPath[bad])
	}
}

func TestTaggerCancellation(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 100; i++ {
		paths = append(paths, writeTestWAV(t, dir, fmt.Sprintf("f%03d.wav", i), "Strobe", "Deadmau5"))
	}

	registry := platforms.NewEmptyRegistry()
	registry.Register(&fakeBuilder{id: "fast", maxThreads: 1, source: &fakeSource{
		id: "fast",
		match: func(*tagger.AudioFileInfo) ([]tagger.TrackMatch, error) {
			return okMatch("fast", "Album", 1.0), nil
		},
	}})

	config := baseConfig("fast")
	config.Threads = 1
	tg := NewTagger(config, registry)
	go tg.Run(paths)

	okSeen, skipped, other := 0, 0, 0
	for status := range tg.Statuses() {
		switch status.State {
		case tagger.StateOk:
			okSeen++
			if okSeen == 10 {
				tg.Cancel()
			}
		case tagger.StateSkipped:
			skipped++
			if status.Message != "cancelled" {
				t.Errorf("skip message = %q", status.Message)
			}
		default:
			other++
		}
	}

	if okSeen < 10 {
		t.Errorf("ok = %d, want at least 10", okSeen)
	}
	if okSeen+skipped+other != 100 {
		t.Errorf("terminal statuses = %d, want one per file", okSeen+skipped+other)
	}
	if skipped == 0 {
		t.Error("expected skipped statuses after cancel")
	}
}

func TestTaggerRespectsEnableFlags(t *testing.T) {
	dir := t.TempDir()
	path := writeTestWAV(t, dir, "strobe.wav", "Strobe", "Deadmau5")

	registry := platforms.NewEmptyRegistry()
	registry.Register(&fakeBuilder{id: "src", maxThreads: 1, source: &fakeSource{
		id: "src",
		match: func(*tagger.AudioFileInfo) ([]tagger.TrackMatch, error) {
			return okMatch("src", "Secret Album", 1.0), nil
		},
	}})

	config := baseConfig("src")
	config.EnableAlbum = false

	statuses := runTagger(t, config, registry, []string{path})
	if len(statuses) != 1 || statuses[0].State != tagger.StateOk {
		t.Fatalf("statuses = %+v", statuses)
	}

	handle, err := tag.Load(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := handle.Get(tag.Album); len(got) != 0 {
		t.Errorf("album written despite enable_album=false: %v", got)
	}
}

func TestTaggerNoOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := writeTestWAV(t, dir, "strobe.wav", "Strobe", "Deadmau5")

	registry := platforms.NewEmptyRegistry()
	registry.Register(&fakeBuilder{id: "src", maxThreads: 1, source: &fakeSource{
		id: "src",
		match: func(*tagger.AudioFileInfo) ([]tagger.TrackMatch, error) {
			matches := okMatch("src", "Album", 1.0)
			matches[0].Track.Title = "Renamed"
			return matches, nil
		},
	}})

	config := baseConfig("src")
	config.Overwrite = false

	runTagger(t, config, registry, []string{path})

	handle, err := tag.Load(path, false)
	if err != nil {
		t.Fatal(err)
	}
	// Existing title survives, missing album is filled
	if got := handle.Get(tag.Title); len(got) != 1 || got[0] != "Strobe" {
		t.Errorf("title = %v, want existing value kept", got)
	}
	if got := handle.Get(tag.Album); len(got) != 1 || got[0] != "Album" {
		t.Errorf("album = %v, want filled", got)
	}
}

func TestFileListPlaylistResolvesToParent(t *testing.T) {
	dir := t.TempDir()
	writeTestWAV(t, dir, "a.wav", "A", "B")
	writeTestWAV(t, dir, "b.wav", "C", "D")
	playlist := filepath.Join(dir, "set.m3u")
	if err := os.WriteFile(playlist, []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := FileList(playlist, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("files = %v, want the playlist's folder contents", files)
	}
}
