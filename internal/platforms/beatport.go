package platforms

import (
	"fmt"
	"strconv"
	"time"

	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

type beatportBuilder struct{}

// BeatportBuilder creates the Beatport matcher builder
func BeatportBuilder() tagger.AutotaggerSourceBuilder { return &beatportBuilder{} }

func (b *beatportBuilder) Info() tagger.PlatformInfo {
	return tagger.PlatformInfo{
		ID:          "beatport",
		Name:        "Beatport",
		Description: "Electronic music store with BPM, key and label data",
		MaxThreads:  4,
		CustomOptions: map[string]tagger.CustomOption{
			"access_token": {Type: "string", Required: true,
				Description: "Beatport API v4 access token"},
			"max_pages": {Type: "number", Default: 1,
				Description: "Search result pages to scan"},
		},
	}
}

func (b *beatportBuilder) Build(config *tagger.TaggerConfig) (tagger.AutotaggerSource, error) {
	token, ok := config.CustomString("beatport", "access_token")
	if !ok || token == "" {
		return nil, &tagger.ConfigMissingError{Platform: "beatport", Field: "access_token"}
	}
	maxPages := 1
	if bag, ok := config.Custom["beatport"]; ok {
		if v, ok := bag["max_pages"].(float64); ok && v >= 1 {
			maxPages = int(v)
		}
	}
	http := newHTTPClient("https://api.beatport.com/v4", 0)
	http.client.SetAuthToken(token)
	return &beatportSource{http: http, maxPages: maxPages}, nil
}

type beatportSource struct {
	http     *httpClient
	maxPages int
}

type beatportSearch struct {
	Tracks []beatportTrack `json:"tracks"`
	Next   string          `json:"next"`
}

type beatportTrack struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	MixName string `json:"mix_name"`
	Slug    string `json:"slug"`
	ISRC    string `json:"isrc"`
	BPM     int64  `json:"bpm"`
	Length  int64  `json:"length_ms"`
	Number  int    `json:"number"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Remixers []struct {
		Name string `json:"name"`
	} `json:"remixers"`
	Genre struct {
		Name string `json:"name"`
	} `json:"genre"`
	SubGenre struct {
		Name string `json:"name"`
	} `json:"sub_genre"`
	Key struct {
		Name string `json:"name"`
	} `json:"key"`
	Release struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Image struct {
			URI string `json:"uri"`
		} `json:"image"`
		Label struct {
			Name string `json:"name"`
		} `json:"label"`
	} `json:"release"`
	CatalogNumber string `json:"catalog_number"`
	PublishDate   string `json:"publish_date"`
}

func (s *beatportSource) MatchTrack(info *tagger.AudioFileInfo, config *tagger.TaggerConfig) ([]tagger.TrackMatch, error) {
	artist, err := info.MustArtist()
	if err != nil {
		return nil, err
	}
	title, err := info.MustTitle()
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("%s %s", artist, tagger.CleanTitle(title))

	var candidates []tagger.Track
	for page := 1; page <= s.maxPages; page++ {
		var result beatportSearch
		err := s.http.get("/catalog/search", map[string]string{
			"q":        query,
			"type":     "tracks",
			"per_page": "50",
			"page":     strconv.Itoa(page),
		}, &result)
		if err != nil {
			return nil, err
		}
		for _, t := range result.Tracks {
			candidates = append(candidates, t.intoTrack())
		}
		if result.Next == "" {
			break
		}
	}
	util.DebugLog("Beatport: %d candidates for %q", len(candidates), query)

	if match := tagger.MatchTrack(info, candidates, config); match != nil {
		return []tagger.TrackMatch{*match}, nil
	}
	return nil, nil
}

func (t *beatportTrack) intoTrack() tagger.Track {
	title := t.Name
	if t.MixName != "" && t.MixName != "Original Mix" {
		title = fmt.Sprintf("%s (%s)", t.Name, t.MixName)
	}
	track := tagger.Track{
		PlatformID:    "beatport",
		TrackID:       strconv.FormatInt(t.ID, 10),
		ReleaseID:     strconv.FormatInt(t.Release.ID, 10),
		Title:         title,
		Album:         t.Release.Name,
		Label:         t.Release.Label.Name,
		CatalogNumber: t.CatalogNumber,
		BPM:           t.BPM,
		Key:           t.Key.Name,
		ISRC:          t.ISRC,
		Duration:      time.Duration(t.Length) * time.Millisecond,
		TrackNumber:   t.Number,
		ArtURL:        t.Release.Image.URI,
		URL:           fmt.Sprintf("https://www.beatport.com/track/%s/%d", t.Slug, t.ID),
	}
	for _, a := range t.Artists {
		track.Artists = append(track.Artists, a.Name)
	}
	for _, r := range t.Remixers {
		track.Remixers = append(track.Remixers, r.Name)
	}
	if t.Genre.Name != "" {
		track.Genres = append(track.Genres, t.Genre.Name)
	}
	if t.SubGenre.Name != "" {
		track.Styles = append(track.Styles, t.SubGenre.Name)
	}
	if len(t.PublishDate) >= 10 {
		if date, err := time.Parse("2006-01-02", t.PublishDate[:10]); err == nil {
			track.ReleaseDate = &date
		}
	}
	return track
}
