package tagger

import (
	"fmt"
	"time"
)

// AudioFormat is the container format of an audio file
type AudioFormat string

const (
	FormatMP3  AudioFormat = "MP3"
	FormatFLAC AudioFormat = "FLAC"
	FormatAIFF AudioFormat = "AIFF"
	FormatMP4  AudioFormat = "MP4"
	FormatOGG  AudioFormat = "OGG"
	FormatWAV  AudioFormat = "WAV"
)

// AudioFileInfo describes an observed local file. Created when the
// scheduler enqueues a path, immutable afterwards.
type AudioFileInfo struct {
	Path        string      `json:"path"`
	Format      AudioFormat `json:"format"`
	Title       string      `json:"title,omitempty"`
	Artist      string      `json:"artist,omitempty"`
	Album       string      `json:"album,omitempty"`
	ISRC        string      `json:"isrc,omitempty"`
	DurationMS  int64       `json:"duration_ms,omitempty"`
	TrackNumber int         `json:"track_number,omitempty"`
	ReleaseYear int         `json:"release_year,omitempty"`
	BPM         int64       `json:"bpm,omitempty"`
}

// MustTitle returns the probed title or an error if absent
func (i *AudioFileInfo) MustTitle() (string, error) {
	if i.Title == "" {
		return "", fmt.Errorf("file has no title tag: %s", i.Path)
	}
	return i.Title, nil
}

// MustArtist returns the probed artist or an error if absent
func (i *AudioFileInfo) MustArtist() (string, error) {
	if i.Artist == "" {
		return "", fmt.Errorf("file has no artist tag: %s", i.Path)
	}
	return i.Artist, nil
}

// Track is a candidate metadata record returned by a platform matcher
type Track struct {
	PlatformID    string            `json:"platform_id"`
	TrackID       string            `json:"track_id"`
	ReleaseID     string            `json:"release_id,omitempty"`
	Title         string            `json:"title"`
	Artists       []string          `json:"artists"`
	Album         string            `json:"album,omitempty"`
	AlbumArtists  []string          `json:"album_artists,omitempty"`
	Genres        []string          `json:"genres,omitempty"`
	Styles        []string          `json:"styles,omitempty"`
	Label         string            `json:"label,omitempty"`
	CatalogNumber string            `json:"catalog_number,omitempty"`
	BPM           int64             `json:"bpm,omitempty"`
	Key           string            `json:"key,omitempty"`
	ISRC          string            `json:"isrc,omitempty"`
	Duration      time.Duration     `json:"duration,omitempty"`
	ReleaseDate   *time.Time        `json:"release_date,omitempty"`
	ReleaseYear   int               `json:"release_year,omitempty"`
	URL           string            `json:"url,omitempty"`
	TrackNumber   int               `json:"track_number,omitempty"`
	TrackTotal    int               `json:"track_total,omitempty"`
	DiscNumber    int               `json:"disc_number,omitempty"`
	Mood          string            `json:"mood,omitempty"`
	Remixers      []string          `json:"remixers,omitempty"`
	ArtURL        string            `json:"art_url,omitempty"`
	Lyrics        string            `json:"lyrics,omitempty"`
	Custom        map[string]string `json:"custom,omitempty"`
}

// Year returns the release year, derived from ReleaseDate when set
func (t *Track) Year() int {
	if t.ReleaseDate != nil {
		return t.ReleaseDate.Year()
	}
	return t.ReleaseYear
}

// Validate checks the invariants every candidate must satisfy
func (t *Track) Validate() error {
	if t.PlatformID == "" {
		return fmt.Errorf("track %q has no platform id", t.Title)
	}
	if len(t.Artists) == 0 {
		return fmt.Errorf("track %q has no artists", t.Title)
	}
	if t.ReleaseDate != nil && t.ReleaseYear != 0 && t.ReleaseDate.Year() != t.ReleaseYear {
		return fmt.Errorf("track %q release year %d disagrees with date %s",
			t.Title, t.ReleaseYear, t.ReleaseDate.Format("2006-01-02"))
	}
	return nil
}

// MatchReason enumerates which matching rules fired for a winner
type MatchReason string

const (
	ReasonTitleExact       MatchReason = "TitleExact"
	ReasonArtistExact      MatchReason = "ArtistExact"
	ReasonISRC             MatchReason = "ISRC"
	ReasonBPMCheck         MatchReason = "BPMCheck"
	ReasonDurationTieBreak MatchReason = "DurationTieBreak"
	ReasonStrict           MatchReason = "Strict"
)

// TrackMatch pairs a candidate with its computed accuracy
type TrackMatch struct {
	Accuracy float64       `json:"accuracy"`
	Track    Track         `json:"track"`
	Reasons  []MatchReason `json:"reasons,omitempty"`
}

// TaggingState is the terminal state of one file in a run
type TaggingState string

const (
	StateOk      TaggingState = "ok"
	StateSkipped TaggingState = "skipped"
	StateNoMatch TaggingState = "nomatch"
	StateError   TaggingState = "error"
)

// TaggingStatus is one event on the status stream
type TaggingStatus struct {
	FilePath     string        `json:"file"`
	Platform     string        `json:"platform,omitempty"`
	State        TaggingState  `json:"state"`
	Accuracy     *float64      `json:"accuracy,omitempty"`
	UsedPlatform string        `json:"used_platform,omitempty"`
	Reasons      []MatchReason `json:"reasons,omitempty"`
	Message      string        `json:"message,omitempty"`
}
