package platforms

import (
	"fmt"
	"strings"
	"time"

	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

// MusicBrainz requires a descriptive user agent and at most one request
// per second.
const musicbrainzRateLimit = 60

type musicbrainzBuilder struct{}

// MusicBrainzBuilder creates the MusicBrainz matcher builder
func MusicBrainzBuilder() tagger.AutotaggerSourceBuilder { return &musicbrainzBuilder{} }

func (b *musicbrainzBuilder) Info() tagger.PlatformInfo {
	return tagger.PlatformInfo{
		ID:          "musicbrainz",
		Name:        "MusicBrainz",
		Description: "Open music encyclopedia, 1 request / second",
		MaxThreads:  1,
	}
}

func (b *musicbrainzBuilder) Build(_ *tagger.TaggerConfig) (tagger.AutotaggerSource, error) {
	return &musicbrainzSource{
		http: newHTTPClient("https://musicbrainz.org/ws/2", musicbrainzRateLimit),
	}, nil
}

type musicbrainzSource struct {
	http *httpClient
}

type mbRecordingSearch struct {
	Count      int           `json:"count"`
	Recordings []mbRecording `json:"recordings"`
}

type mbRecording struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Length       int64  `json:"length"`
	Score        int    `json:"score"`
	ISRCs        []string `json:"isrcs"`
	ArtistCredit []struct {
		Name   string `json:"name"`
		Artist struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			SortName string `json:"sort-name"`
		} `json:"artist"`
	} `json:"artist-credit"`
	Releases []struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		Date         string `json:"date"`
		TrackCount   int    `json:"track-count"`
		ReleaseGroup struct {
			PrimaryType string `json:"primary-type"`
		} `json:"release-group"`
		Media []struct {
			Position int `json:"position"`
			Track    []struct {
				Number string `json:"number"`
			} `json:"track"`
		} `json:"media"`
	} `json:"releases"`
	Tags []struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	} `json:"tags"`
}

func (s *musicbrainzSource) MatchTrack(info *tagger.AudioFileInfo, config *tagger.TaggerConfig) ([]tagger.TrackMatch, error) {
	// ISRC lookup first when the file already carries one
	if info.ISRC != "" {
		matches, err := s.search(info, config, fmt.Sprintf(`isrc:%s`, escapeLucene(info.ISRC)))
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return matches, nil
		}
	}

	artist, err := info.MustArtist()
	if err != nil {
		return nil, err
	}
	title, err := info.MustTitle()
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`recording:"%s" AND artist:"%s"`,
		escapeLucene(tagger.CleanTitle(title)), escapeLucene(artist))
	return s.search(info, config, query)
}

func (s *musicbrainzSource) search(info *tagger.AudioFileInfo, config *tagger.TaggerConfig, query string) ([]tagger.TrackMatch, error) {
	util.DebugLog("MusicBrainz search: %s", query)

	var result mbRecordingSearch
	err := s.http.get("/recording", map[string]string{
		"query": query,
		"fmt":   "json",
		"limit": "25",
	}, &result)
	if err != nil {
		return nil, err
	}

	var candidates []tagger.Track
	for _, r := range result.Recordings {
		candidates = append(candidates, r.intoTrack())
	}
	util.DebugLog("MusicBrainz: %d candidates", len(candidates))

	if match := tagger.MatchTrack(info, candidates, config); match != nil {
		return []tagger.TrackMatch{*match}, nil
	}
	return nil, nil
}

func (r *mbRecording) intoTrack() tagger.Track {
	track := tagger.Track{
		PlatformID: "musicbrainz",
		TrackID:    r.ID,
		Title:      r.Title,
		Duration:   time.Duration(r.Length) * time.Millisecond,
		URL:        "https://musicbrainz.org/recording/" + r.ID,
	}
	for _, credit := range r.ArtistCredit {
		name := credit.Name
		if name == "" {
			name = credit.Artist.Name
		}
		if name != "" {
			track.Artists = append(track.Artists, name)
		}
	}
	if len(r.ISRCs) > 0 {
		track.ISRC = r.ISRCs[0]
	}
	for _, t := range r.Tags {
		track.Genres = append(track.Genres, t.Name)
	}
	if len(r.Releases) > 0 {
		release := r.Releases[0]
		track.ReleaseID = release.ID
		track.Album = release.Title
		track.TrackTotal = release.TrackCount
		if date, ok := parseMBDate(release.Date); ok {
			track.ReleaseDate = date
		}
		if len(release.Media) > 0 {
			track.DiscNumber = release.Media[0].Position
			if len(release.Media[0].Track) > 0 {
				fmt.Sscanf(release.Media[0].Track[0].Number, "%d", &track.TrackNumber)
			}
		}
	}
	return track
}

func parseMBDate(text string) (*time.Time, bool) {
	if len(text) >= 10 {
		if date, err := time.Parse("2006-01-02", text[:10]); err == nil {
			return &date, true
		}
	}
	if len(text) >= 4 {
		if date, err := time.Parse("2006", text[:4]); err == nil {
			return &date, true
		}
	}
	return nil, false
}

// escapeLucene escapes the reserved characters of the MusicBrainz
// Lucene query syntax
func escapeLucene(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '+', '-', '&', '|', '!', '(', ')', '{', '}', '[', ']', '^', '"', '~', '*', '?', ':', '\\', '/':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
