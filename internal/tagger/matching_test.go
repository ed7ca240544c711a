package tagger

import (
	"testing"
	"time"
)

func testConfig() *TaggerConfig {
	c := DefaultConfig()
	c.MinAccuracy = 0.8
	c.MinSubscore = 0.4
	return c
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase", "STROBE", "strobe"},
		{"featuring stripped", "Ghosts n Stuff feat. Rob Swire", "ghosts n stuff"},
		{"ft stripped", "Levels ft. Etta James", "levels"},
		{"parens stripped", "Strobe (Club Edit)", "strobe"},
		{"brackets stripped", "Strobe [Extended Mix]", "strobe"},
		{"track prefix stripped", "01 - Strobe", "strobe"},
		{"dotted prefix stripped", "12. Raise Your Weapon", "raise your weapon"},
		{"punctuation dropped", "I Remember!?", "i remember"},
		{"compound hyphen kept", "re-work the track", "re-work the track"},
		{"whitespace collapsed", "Some   Chords", "some chords"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanTitle(tt.input); got != tt.expected {
				t.Errorf("CleanTitle(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCleanArtist(t *testing.T) {
	if got := CleanArtist("Prodigy, The"); got != "the prodigy" {
		t.Errorf("CleanArtist = %q, want %q", got, "the prodigy")
	}
	if got := CleanArtist("deadmau5"); got != "deadmau5" {
		t.Errorf("CleanArtist = %q, want %q", got, "deadmau5")
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	pairs := [][2]string{
		{"strobe", "strobe club edit"},
		{"some chords", "chords some"},
		{"", "anything"},
	}
	for _, p := range pairs {
		if Similarity(p[0], p[1]) != Similarity(p[1], p[0]) {
			t.Errorf("Similarity(%q, %q) not symmetric", p[0], p[1])
		}
	}
}

func TestSimilarityTokenReorder(t *testing.T) {
	// Token-set Jaccard keeps reordered tokens at 1.0
	if got := Similarity("some chords", "chords some"); got != 1.0 {
		t.Errorf("reordered tokens scored %f, want 1.0", got)
	}
}

func TestMatchTrackHappyPath(t *testing.T) {
	info := &AudioFileInfo{Path: "/music/strobe.mp3", Title: "Strobe", Artist: "Deadmau5"}
	candidates := []Track{{
		PlatformID: "itunes",
		Title:      "Strobe",
		Artists:    []string{"deadmau5"},
		Album:      "For Lack Of A Better Name",
	}}

	m := MatchTrack(info, candidates, testConfig())
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.Accuracy < 0.99 {
		t.Errorf("accuracy = %f, want ~1.0", m.Accuracy)
	}
	if m.Track.Album != "For Lack Of A Better Name" {
		t.Errorf("wrong winner: %+v", m.Track)
	}
}

func TestMatchTrackISRCOverride(t *testing.T) {
	info := &AudioFileInfo{Path: "/x.mp3", Title: "wrong title", Artist: "someone", ISRC: "USUV71400682"}
	candidates := []Track{{
		PlatformID: "beatport",
		Title:      "completely different",
		Artists:    []string{"other artist"},
		ISRC:       "USUV71400682",
	}}

	m := MatchTrack(info, candidates, testConfig())
	if m == nil {
		t.Fatal("expected ISRC match")
	}
	if m.Accuracy != 1.0 {
		t.Errorf("accuracy = %f, want 1.0", m.Accuracy)
	}
	found := false
	for _, r := range m.Reasons {
		if r == ReasonISRC {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons = %v, want ISRC", m.Reasons)
	}
}

func TestMatchTrackBPMTolerance(t *testing.T) {
	info := &AudioFileInfo{Path: "/x.mp3", Title: "Strobe", Artist: "deadmau5", BPM: 128}
	candidates := []Track{{
		PlatformID: "beatport",
		Title:      "Strobe",
		Artists:    []string{"deadmau5"},
		BPM:        130,
	}}

	config := testConfig()
	config.MatchByBPM = true

	config.BPMTolerance = 2
	if m := MatchTrack(info, candidates, config); m == nil {
		t.Error("tolerance=2, delta=2: expected accept")
	}

	config.BPMTolerance = 1
	if m := MatchTrack(info, candidates, config); m != nil {
		t.Error("tolerance=1, delta=2: expected reject")
	}
}

func TestMatchTrackStrictMode(t *testing.T) {
	info := &AudioFileInfo{Path: "/x.mp3", Title: "abcdefghijklmnopqrst", Artist: "deadmau5"}
	// 0.75 title similarity (5 edits over 20 runes) even with exact artist
	candidates := []Track{{
		PlatformID: "itunes",
		Title:      "abcdefghijklmno",
		Artists:    []string{"deadmau5"},
	}}

	config := testConfig()
	config.StrictMode = true
	config.Strictness = 0.8
	config.MinAccuracy = 0.5

	m := MatchTrack(info, candidates, config)
	if m != nil {
		t.Errorf("strict mode should reject title_score<0.8, got accuracy %f", m.Accuracy)
	}

	config.StrictMode = false
	if m := MatchTrack(info, candidates, config); m == nil {
		t.Error("non-strict mode should accept the same candidate")
	}
}

func TestMatchTrackBelowMinAccuracy(t *testing.T) {
	info := &AudioFileInfo{Path: "/x.mp3", Title: "Strobe", Artist: "deadmau5"}
	candidates := []Track{{
		PlatformID: "itunes",
		Title:      "Strobing Lights Forever",
		Artists:    []string{"deadmau5"},
	}}

	config := testConfig()
	config.MinAccuracy = 0.95
	if m := MatchTrack(info, candidates, config); m != nil {
		t.Errorf("expected NoMatch below min_accuracy, got %f", m.Accuracy)
	}
}

func TestMatchTrackDurationTieBreak(t *testing.T) {
	info := &AudioFileInfo{Path: "/x.mp3", Title: "Strobe", Artist: "deadmau5", DurationMS: 600_000}
	candidates := []Track{
		{PlatformID: "itunes", TrackID: "long", Title: "Strobe", Artists: []string{"deadmau5"}, Duration: 11 * time.Minute},
		{PlatformID: "itunes", TrackID: "close", Title: "Strobe", Artists: []string{"deadmau5"}, Duration: 10 * time.Minute},
	}

	m := MatchTrack(info, candidates, testConfig())
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.Track.TrackID != "close" {
		t.Errorf("tie-break picked %q, want the closer duration", m.Track.TrackID)
	}
}

func TestMatchTrackEarlierReleaseWins(t *testing.T) {
	early := time.Date(2009, 9, 22, 0, 0, 0, 0, time.UTC)
	late := time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)
	info := &AudioFileInfo{Path: "/x.mp3", Title: "Strobe", Artist: "deadmau5"}
	candidates := []Track{
		{PlatformID: "itunes", TrackID: "reissue", Title: "Strobe", Artists: []string{"deadmau5"}, ReleaseDate: &late},
		{PlatformID: "itunes", TrackID: "original", Title: "Strobe", Artists: []string{"deadmau5"}, ReleaseDate: &early},
	}

	m := MatchTrack(info, candidates, testConfig())
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.Track.TrackID != "original" {
		t.Errorf("tie-break picked %q, want earliest release", m.Track.TrackID)
	}
}

func TestMatchTrackRejectsInvalidCandidates(t *testing.T) {
	info := &AudioFileInfo{Path: "/x.mp3", Title: "Strobe", Artist: "deadmau5"}
	candidates := []Track{
		{PlatformID: "", Title: "Strobe", Artists: []string{"deadmau5"}},
		{PlatformID: "itunes", Title: "Strobe"},
	}
	if m := MatchTrack(info, candidates, testConfig()); m != nil {
		t.Errorf("invalid candidates should never win: %+v", m.Track)
	}
}
