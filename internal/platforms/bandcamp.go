package platforms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

type bandcampBuilder struct{}

// BandcampBuilder creates the Bandcamp matcher builder
func BandcampBuilder() tagger.AutotaggerSourceBuilder { return &bandcampBuilder{} }

func (b *bandcampBuilder) Info() tagger.PlatformInfo {
	return tagger.PlatformInfo{
		ID:          "bandcamp",
		Name:        "Bandcamp",
		Description: "Scrapes the public search pages, sparse search results",
		MaxThreads:  2,
	}
}

func (b *bandcampBuilder) Build(_ *tagger.TaggerConfig) (tagger.AutotaggerSource, error) {
	return &bandcampSource{http: newHTTPClient("https://bandcamp.com", 30)}, nil
}

// bandcampSource scrapes search result pages. The listing omits album,
// art and release date, so the winner is enriched from its track page
// via ExtendTrack.
type bandcampSource struct {
	http *httpClient
}

func (s *bandcampSource) MatchTrack(info *tagger.AudioFileInfo, config *tagger.TaggerConfig) ([]tagger.TrackMatch, error) {
	artist, err := info.MustArtist()
	if err != nil {
		return nil, err
	}
	title, err := info.MustTitle()
	if err != nil {
		return nil, err
	}

	body, err := s.http.getBytes("/search", map[string]string{
		"q":         fmt.Sprintf("%s %s", artist, tagger.CleanTitle(title)),
		"item_type": "t",
	})
	if err != nil {
		return nil, err
	}

	candidates, err := parseBandcampSearch(body)
	if err != nil {
		return nil, &tagger.ParseError{Detail: err.Error()}
	}
	util.DebugLog("Bandcamp: %d candidates", len(candidates))

	if match := tagger.MatchTrack(info, candidates, config); match != nil {
		return []tagger.TrackMatch{*match}, nil
	}
	return nil, nil
}

// ExtendTrack fetches the track's own page for the fields the search
// listing omits
func (s *bandcampSource) ExtendTrack(track *tagger.Track, _ *tagger.TaggerConfig) error {
	if track.URL == "" {
		return nil
	}
	body, err := s.http.getBytes(track.URL, nil)
	if err != nil {
		return err
	}
	extendFromTrackPage(track, body)
	return nil
}

// parseBandcampSearch walks the search page DOM: every li.searchresult
// holds a heading link (title + URL) and a subhead ("by Artist").
func parseBandcampSearch(body []byte) ([]tagger.Track, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var tracks []tagger.Track
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "li" && hasClass(n, "searchresult") {
			if track := parseSearchResult(n); track != nil {
				tracks = append(tracks, *track)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return tracks, nil
}

func parseSearchResult(item *html.Node) *tagger.Track {
	track := &tagger.Track{PlatformID: "bandcamp"}
	isTrack := true
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "div" && hasClass(n, "heading"):
				if a := findElement(n, "a"); a != nil {
					track.Title = strings.TrimSpace(textContent(a))
					track.URL = strings.TrimSpace(attr(a, "href"))
					// strip the search tracker query
					if i := strings.IndexByte(track.URL, '?'); i >= 0 {
						track.URL = track.URL[:i]
					}
					track.TrackID = track.URL
				}
				return
			case n.Data == "div" && hasClass(n, "subhead"):
				text := strings.TrimSpace(textContent(n))
				if after, found := strings.CutPrefix(text, "by "); found {
					track.Artists = []string{strings.TrimSpace(after)}
				}
				return
			case n.Data == "div" && hasClass(n, "itemtype"):
				if strings.TrimSpace(strings.ToLower(textContent(n))) != "track" {
					isTrack = false
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(item)

	if !isTrack || track.Title == "" || len(track.Artists) == 0 {
		return nil
	}
	return track
}

// bandcampPageLD is the JSON-LD payload embedded in track pages
type bandcampPageLD struct {
	Name          string `json:"name"`
	DatePublished string `json:"datePublished"`
	Image         string `json:"image"`
	InAlbum       struct {
		Name string `json:"name"`
	} `json:"inAlbum"`
	ByArtist struct {
		Name string `json:"name"`
	} `json:"byArtist"`
	Publisher struct {
		Name string `json:"name"`
	} `json:"publisher"`
	Keywords []string `json:"keywords"`
}

func extendFromTrackPage(track *tagger.Track, body []byte) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return
	}
	var ld *bandcampPageLD
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" && attr(n, "type") == "application/ld+json" {
			var payload bandcampPageLD
			if err := json.Unmarshal([]byte(textContent(n)), &payload); err == nil {
				ld = &payload
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if ld == nil {
		return
	}

	if track.Album == "" {
		track.Album = ld.InAlbum.Name
	}
	if track.ArtURL == "" {
		track.ArtURL = ld.Image
	}
	if track.Label == "" {
		track.Label = ld.Publisher.Name
	}
	if len(track.Genres) == 0 {
		track.Genres = ld.Keywords
	}
	if track.ReleaseDate == nil && ld.DatePublished != "" {
		// "02 Jan 2006 15:04:05 GMT" on older pages, ISO on newer ones
		for _, layout := range []string{"02 Jan 2006 15:04:05 MST", "2006-01-02"} {
			if date, err := time.Parse(layout, ld.DatePublished); err == nil {
				utc := date.UTC().Truncate(24 * time.Hour)
				track.ReleaseDate = &utc
				break
			}
		}
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, name); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
