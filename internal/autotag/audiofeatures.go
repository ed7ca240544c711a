package autotag

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sourcegraph/conc"

	"github.com/franz/onetagger/internal/platforms"
	"github.com/franz/onetagger/internal/probe"
	"github.com/franz/onetagger/internal/tag"
	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

// AFProperty configures one audio-features property: where its 0-100
// value is written, and the range outside which it is skipped.
type AFProperty struct {
	Enabled bool   `json:"enabled"`
	Tag     string `json:"tag"`
	RangeMin int   `json:"range_min"`
	RangeMax int   `json:"range_max"`
}

// AudioFeaturesConfig drives the audiofeatures run mode
type AudioFeaturesConfig struct {
	Path       string                `json:"path"`
	Threads    uint32                `json:"threads"`
	IncludeSubfolders bool           `json:"include_subfolders"`
	// Raw frame receiving a summary of the property values written
	MainTag    string                `json:"main_tag"`
	Separator  string                `json:"separator"`
	WriteBPM   bool                  `json:"write_bpm"`
	WriteKey   bool                  `json:"write_key"`
	Properties map[string]AFProperty `json:"properties"`
}

// DefaultAudioFeaturesConfig returns the config printed by
// --audiofeatures-config
func DefaultAudioFeaturesConfig() *AudioFeaturesConfig {
	return &AudioFeaturesConfig{
		Threads:           4,
		IncludeSubfolders: true,
		MainTag:           "TXXX:AUDIO_FEATURES",
		Separator:         ", ",
		Properties: map[string]AFProperty{
			"danceability":     {Enabled: true, Tag: "TXXX:DANCEABILITY", RangeMin: 0, RangeMax: 100},
			"energy":           {Enabled: true, Tag: "TXXX:ENERGY", RangeMin: 0, RangeMax: 100},
			"acousticness":     {Enabled: false, Tag: "TXXX:ACOUSTICNESS", RangeMin: 0, RangeMax: 100},
			"instrumentalness": {Enabled: false, Tag: "TXXX:INSTRUMENTALNESS", RangeMin: 0, RangeMax: 100},
			"liveness":         {Enabled: false, Tag: "TXXX:LIVENESS", RangeMin: 0, RangeMax: 100},
			"speechiness":      {Enabled: false, Tag: "TXXX:SPEECHINESS", RangeMin: 0, RangeMax: 100},
			"valence":          {Enabled: true, Tag: "TXXX:VALENCE", RangeMin: 0, RangeMax: 100},
		},
	}
}

// ParseAudioFeaturesConfig decodes the JSON config document
func ParseAudioFeaturesConfig(data []byte) (*AudioFeaturesConfig, error) {
	config := DefaultAudioFeaturesConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return config, nil
}

// AudioFeatures tags files with Spotify's per-track analysis values
type AudioFeatures struct {
	config   *AudioFeaturesConfig
	spotify  *platforms.Spotify
	statuses chan tagger.TaggingStatus
}

// NewAudioFeatures prepares an audio-features run over an authorized
// Spotify session
func NewAudioFeatures(config *AudioFeaturesConfig, spotify *platforms.Spotify) *AudioFeatures {
	return &AudioFeatures{
		config:   config,
		spotify:  spotify,
		statuses: make(chan tagger.TaggingStatus, 1024),
	}
}

// Statuses is the run's event stream; closed when the run finishes
func (a *AudioFeatures) Statuses() <-chan tagger.TaggingStatus {
	return a.statuses
}

// Run processes every file on a bounded worker pool
func (a *AudioFeatures) Run(files []string) {
	defer close(a.statuses)

	threads := int(a.config.Threads)
	if threads < 1 {
		threads = 1
	}

	jobs := make(chan string)
	var wg conc.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Go(func() {
			for path := range jobs {
				a.statuses <- a.tagFile(path)
			}
		})
	}
	for _, path := range files {
		jobs <- path
	}
	close(jobs)
	wg.Wait()
}

func (a *AudioFeatures) tagFile(path string) tagger.TaggingStatus {
	errorStatus := func(err error) tagger.TaggingStatus {
		return tagger.TaggingStatus{FilePath: path, State: tagger.StateError,
			UsedPlatform: "spotify", Message: err.Error()}
	}

	info, err := probe.File(path, true)
	if err != nil {
		return errorStatus(err)
	}

	track, err := a.findTrack(info)
	if err != nil {
		return errorStatus(err)
	}
	if track == nil {
		return tagger.TaggingStatus{FilePath: path, State: tagger.StateNoMatch, UsedPlatform: "spotify"}
	}

	features, err := a.spotify.TrackAudioFeatures(track.TrackID)
	if err != nil {
		return errorStatus(err)
	}

	if err := a.write(path, features); err != nil {
		return errorStatus(err)
	}

	util.DebugLog("Audio features written: %s", path)
	return tagger.TaggingStatus{FilePath: path, State: tagger.StateOk, UsedPlatform: "spotify"}
}

// findTrack resolves the file to a Spotify track, by ISRC when possible
func (a *AudioFeatures) findTrack(info *tagger.AudioFileInfo) (*tagger.Track, error) {
	if info.ISRC != "" {
		tracks, err := a.spotify.SearchTracks("isrc:"+info.ISRC, 1)
		if err != nil {
			return nil, err
		}
		if len(tracks) > 0 {
			return &tracks[0], nil
		}
	}
	if info.Title == "" || info.Artist == "" {
		return nil, fmt.Errorf("no ISRC and missing title or artist: %s", info.Path)
	}
	tracks, err := a.spotify.SearchTracks(fmt.Sprintf("%s %s", info.Artist, tagger.CleanTitle(info.Title)), 20)
	if err != nil {
		return nil, err
	}
	config := tagger.DefaultConfig()
	if match := tagger.MatchTrack(info, tracks, config); match != nil {
		return &match.Track, nil
	}
	return nil, nil
}

// write stores the selected property values as raw frames
func (a *AudioFeatures) write(path string, features *platforms.AudioFeatures) error {
	handle, err := tag.Load(path, true)
	if err != nil {
		return &tagger.WriteBackError{Path: path, Err: err}
	}

	values := map[string]float64{
		"danceability":     features.Danceability,
		"energy":           features.Energy,
		"speechiness":      features.Speechiness,
		"acousticness":     features.Acousticness,
		"instrumentalness": features.Instrumentalness,
		"liveness":         features.Liveness,
		"valence":          features.Valence,
	}

	var summary []string
	for name, property := range a.config.Properties {
		if !property.Enabled || property.Tag == "" {
			continue
		}
		value, ok := values[name]
		if !ok {
			continue
		}
		percent := int(value*100 + 0.5)
		if percent < property.RangeMin || percent > property.RangeMax {
			continue
		}
		handle.SetRaw(property.Tag, []string{strconv.Itoa(percent)})
		summary = append(summary, fmt.Sprintf("%s=%d", name, percent))
	}

	if a.config.MainTag != "" && len(summary) > 0 {
		handle.SetRaw(a.config.MainTag, summary)
	}
	if a.config.WriteBPM && features.Tempo > 0 {
		handle.Set(tag.BPM, []string{strconv.Itoa(int(features.Tempo + 0.5))}, a.config.Separator)
	}
	if a.config.WriteKey {
		if key := features.Key(); key != "" {
			handle.Set(tag.Key, []string{key}, a.config.Separator)
		}
	}

	if err := handle.Save(); err != nil {
		return &tagger.WriteBackError{Path: path, Err: err}
	}
	return nil
}
