package platforms

import (
	"fmt"
	"strconv"
	"time"

	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

// iTunes search API. Unauthenticated but heavily rate limited, roughly
// 20 requests per minute.
const itunesRateLimit = 20

type itunesBuilder struct{}

// ITunesBuilder creates the iTunes matcher builder
func ITunesBuilder() tagger.AutotaggerSourceBuilder { return &itunesBuilder{} }

func (b *itunesBuilder) Info() tagger.PlatformInfo {
	return tagger.PlatformInfo{
		ID:          "itunes",
		Name:        "iTunes",
		Description: "Slow due to rate limits (~20 tracks / min)",
		MaxThreads:  1,
	}
}

func (b *itunesBuilder) Build(_ *tagger.TaggerConfig) (tagger.AutotaggerSource, error) {
	return &itunesSource{
		http: newHTTPClient("https://itunes.apple.com", itunesRateLimit),
	}, nil
}

type itunesSource struct {
	http *httpClient
}

type itunesSearchResults struct {
	ResultCount int                  `json:"resultCount"`
	Results     []itunesSearchResult `json:"results"`
}

type itunesSearchResult struct {
	WrapperType      string `json:"wrapperType"`
	Kind             string `json:"kind"`
	CollectionID     int64  `json:"collectionId"`
	TrackID          int64  `json:"trackId"`
	ArtistName       string `json:"artistName"`
	CollectionName   string `json:"collectionName"`
	TrackName        string `json:"trackName"`
	TrackCount       int    `json:"trackCount"`
	TrackNumber      int    `json:"trackNumber"`
	DiscNumber       int    `json:"discNumber"`
	TrackViewURL     string `json:"trackViewUrl"`
	TrackTimeMillis  int64  `json:"trackTimeMillis"`
	PrimaryGenreName string `json:"primaryGenreName"`
	ReleaseDate      string `json:"releaseDate"`
	ArtworkURL100    string `json:"artworkUrl100"`
}

func (s *itunesSource) MatchTrack(info *tagger.AudioFileInfo, config *tagger.TaggerConfig) ([]tagger.TrackMatch, error) {
	artist, err := info.MustArtist()
	if err != nil {
		return nil, err
	}
	title, err := info.MustTitle()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("%s %s", artist, tagger.CleanTitle(title))
	util.DebugLog("iTunes search: %q", query)

	var results itunesSearchResults
	if err := s.http.get("/search", map[string]string{"term": query, "entity": "song"}, &results); err != nil {
		return nil, err
	}

	var candidates []tagger.Track
	for _, r := range results.Results {
		if track := r.intoTrack(); track != nil {
			candidates = append(candidates, *track)
		}
	}
	util.DebugLog("iTunes: %d candidates for %q", len(candidates), query)

	if match := tagger.MatchTrack(info, candidates, config); match != nil {
		return []tagger.TrackMatch{*match}, nil
	}
	return nil, nil
}

func (r *itunesSearchResult) intoTrack() *tagger.Track {
	if r.WrapperType != "track" || r.Kind != "song" || r.TrackName == "" || r.ArtistName == "" {
		return nil
	}
	track := &tagger.Track{
		PlatformID:  "itunes",
		TrackID:     strconv.FormatInt(r.TrackID, 10),
		ReleaseID:   strconv.FormatInt(r.CollectionID, 10),
		Title:       r.TrackName,
		Artists:     []string{r.ArtistName},
		Album:       r.CollectionName,
		URL:         r.TrackViewURL,
		Duration:    time.Duration(r.TrackTimeMillis) * time.Millisecond,
		TrackNumber: r.TrackNumber,
		TrackTotal:  r.TrackCount,
		DiscNumber:  r.DiscNumber,
		ArtURL:      r.ArtworkURL100,
	}
	if r.PrimaryGenreName != "" {
		track.Genres = []string{r.PrimaryGenreName}
	}
	if len(r.ReleaseDate) >= 10 {
		if date, err := time.Parse("2006-01-02", r.ReleaseDate[:10]); err == nil {
			track.ReleaseDate = &date
		}
	}
	return track
}
