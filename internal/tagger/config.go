package tagger

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaggerConfig is the whole run's policy, decoded from the JSON config file
type TaggerConfig struct {
	// Enabled platforms in priority order
	Platforms []string `json:"platforms"`
	// Root folder of audio files
	Path string `json:"path"`
	// Upper bound on workers per platform
	Threads uint32 `json:"threads"`
	// Strict-mode threshold in [0,1]
	Strictness float64 `json:"strictness"`
	// Append matched genres to existing ones instead of replacing
	MergeGenres bool `json:"merge_genres"`

	// Per-field enable flags
	EnableTitle         bool `json:"enable_title"`
	EnableArtist        bool `json:"enable_artist"`
	EnableAlbum         bool `json:"enable_album"`
	EnableGenre         bool `json:"enable_genre"`
	EnableStyle         bool `json:"enable_style"`
	EnableBPM           bool `json:"enable_bpm"`
	EnableKey           bool `json:"enable_key"`
	EnableLabel         bool `json:"enable_label"`
	EnableISRC          bool `json:"enable_isrc"`
	EnableCatalogNumber bool `json:"enable_catalog_number"`
	EnableTrackNumber   bool `json:"enable_track_number"`
	EnableDiscNumber    bool `json:"enable_disc_number"`
	EnableReleaseDate   bool `json:"enable_release_date"`
	EnableArt           bool `json:"enable_art"`
	EnableLyrics        bool `json:"enable_lyrics"`
	EnableMood          bool `json:"enable_mood"`
	EnableRemixer       bool `json:"enable_remixer"`

	// Replace existing tag values
	Overwrite bool `json:"overwrite"`
	// Joins multi-valued fields on containers without native lists
	Separator string `json:"separator"`
	// Recurse into subdirectories when collecting files
	IncludeSubfolders bool `json:"include_subfolders"`
	// Per-platform free-form option bags
	Custom map[string]map[string]interface{} `json:"custom,omitempty"`

	// Keep consulting lower-priority platforms after a match
	ContinueOnMatch bool `json:"continue_on_match,omitempty"`
	// Transient-error retries per match call
	MaxRetries uint32 `json:"max_retries"`
	// Accepted BPM delta when BPM matching is enabled
	BPMTolerance uint32 `json:"bpm_tolerance"`

	// Matching knobs
	MinAccuracy float64 `json:"min_accuracy"`
	MinSubscore float64 `json:"min_subscore"`
	MatchByBPM  bool    `json:"match_by_bpm,omitempty"`
	StrictMode  bool    `json:"strict_mode,omitempty"`

	// Longest edge for downloaded cover art, 0 keeps the original size
	MaxArtSize int `json:"max_art_size,omitempty"`
}

// DefaultConfig returns the config printed by --autotagger-config
func DefaultConfig() *TaggerConfig {
	return &TaggerConfig{
		Platforms:         []string{"itunes"},
		Threads:           16,
		Strictness:        0.8,
		EnableGenre:       true,
		EnableStyle:       true,
		EnableBPM:         true,
		EnableKey:         true,
		EnableLabel:       true,
		EnableReleaseDate: true,
		Separator:         ", ",
		IncludeSubfolders: true,
		MaxRetries:        2,
		BPMTolerance:      2,
		MinAccuracy:       0.8,
		MinSubscore:       0.4,
		MaxArtSize:        1200,
	}
}

// ParseConfig decodes and validates a JSON config document
func ParseConfig(data []byte) (*TaggerConfig, error) {
	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks config invariants
func (c *TaggerConfig) Validate() error {
	if len(c.Platforms) == 0 {
		return fmt.Errorf("no platforms enabled")
	}
	if c.Strictness < 0 || c.Strictness > 1 {
		return fmt.Errorf("strictness %f out of range [0,1]", c.Strictness)
	}
	if c.MinAccuracy < 0 || c.MinAccuracy > 1 {
		return fmt.Errorf("min_accuracy %f out of range [0,1]", c.MinAccuracy)
	}
	if c.Threads == 0 {
		c.Threads = 1
	}
	return nil
}

// CustomString fetches a string option from a platform's custom bag
func (c *TaggerConfig) CustomString(platform, key string) (string, bool) {
	bag, ok := c.Custom[platform]
	if !ok {
		return "", false
	}
	v, ok := bag[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Per-request and per-match-call deadlines (§5)
const (
	RequestTimeout   = 30 * time.Second
	MatchDeadline    = 60 * time.Second
	DefaultRateRetry = 5 * time.Second
)
