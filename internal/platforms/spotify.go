package platforms

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

const (
	spotifyAccountsURL = "https://accounts.spotify.com"
	spotifyAPIURL      = "https://api.spotify.com/v1"
	// Loopback port the OAuth redirect listener binds
	SpotifyCallbackPort = 36914
)

// SpotifyToken is the cached OAuth token payload
type SpotifyToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
}

// Spotify is an authorized API session, shared by the matcher and the
// audio-features tagger.
type Spotify struct {
	client *resty.Client
	store  *credentialStore
	token  SpotifyToken
}

type spotifyTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// SpotifyAuthURL builds the authorization URL for the code grant.
// The state value must round-trip through the redirect.
func SpotifyAuthURL(clientID string, expose bool) (authURL, state, redirectURI string) {
	buf := make([]byte, 16)
	rand.Read(buf)
	state = hex.EncodeToString(buf)
	redirectURI = fmt.Sprintf("http://127.0.0.1:%d/spotify", SpotifyCallbackPort)
	_ = expose // the listener address changes, the registered URI does not

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("state", state)
	params.Set("scope", "user-read-private")
	return spotifyAccountsURL + "/authorize?" + params.Encode(), state, redirectURI
}

// SpotifyAuthServer runs the loopback redirect listener and exchanges
// the received code. With expose it binds 0.0.0.0 instead of loopback.
func SpotifyAuthServer(clientID, clientSecret, redirectURI string, expose bool) (*Spotify, error) {
	host := "127.0.0.1"
	if expose {
		host = "0.0.0.0"
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, SpotifyCallbackPort))
	if err != nil {
		return nil, fmt.Errorf("bind callback listener: %w", err)
	}

	codeCh := make(chan string, 1)
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Spotify authorized, you can close this window.")
		select {
		case codeCh <- code:
		default:
		}
	})}
	go server.Serve(listener)
	defer server.Close()

	util.InfoLog("Waiting for the Spotify redirect on port %d...", SpotifyCallbackPort)
	code := <-codeCh
	return spotifyExchangeCode(clientID, clientSecret, redirectURI, code)
}

// SpotifyAuthCode exchanges a pasted redirect URL (prompt mode)
func SpotifyAuthCode(clientID, clientSecret, redirectURI, redirectedURL string) (*Spotify, error) {
	parsed, err := url.Parse(strings.TrimSpace(redirectedURL))
	if err != nil {
		return nil, fmt.Errorf("parse redirected url: %w", err)
	}
	code := parsed.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("redirected url carries no code parameter")
	}
	return spotifyExchangeCode(clientID, clientSecret, redirectURI, code)
}

func spotifyExchangeCode(clientID, clientSecret, redirectURI, code string) (*Spotify, error) {
	var token spotifyTokenResponse
	resp, err := resty.New().SetTimeout(tagger.RequestTimeout).R().
		SetBasicAuth(clientID, clientSecret).
		SetFormData(map[string]string{
			"grant_type":   "authorization_code",
			"code":         code,
			"redirect_uri": redirectURI,
		}).
		SetResult(&token).
		Post(spotifyAccountsURL + "/api/token")
	if err != nil {
		return nil, &tagger.TransportError{Transient: true, Err: err}
	}
	if resp.StatusCode() != 200 || token.AccessToken == "" {
		return nil, &tagger.UnauthorizedError{Platform: "spotify",
			Detail: fmt.Sprintf("token exchange failed: %s %s", token.Error, token.ErrorDesc)}
	}

	store, err := openCredentialStore()
	if err != nil {
		return nil, err
	}
	s := &Spotify{store: store, token: SpotifyToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}}
	if err := store.put("spotify", s.token); err != nil {
		util.WarnLog("Failed to cache Spotify token: %v", err)
	}
	s.initClient()
	return s, nil
}

// SpotifyCachedToken builds a session from the credential store,
// refreshing lazily when the cached access token has expired.
func SpotifyCachedToken(clientID, clientSecret string) (*Spotify, error) {
	store, err := openCredentialStore()
	if err != nil {
		return nil, err
	}
	s := &Spotify{store: store}
	if !store.get("spotify", &s.token) {
		return nil, &tagger.UnauthorizedError{Platform: "spotify",
			Detail: "no cached token, run authorize-spotify first"}
	}
	if clientID != "" {
		s.token.ClientID = clientID
	}
	if clientSecret != "" {
		s.token.ClientSecret = clientSecret
	}
	if time.Now().After(s.token.ExpiresAt) {
		if err := s.refresh(); err != nil {
			return nil, err
		}
	}
	s.initClient()
	return s, nil
}

func (s *Spotify) initClient() {
	s.client = resty.New().
		SetBaseURL(spotifyAPIURL).
		SetTimeout(tagger.RequestTimeout).
		SetHeader("User-Agent", userAgent).
		SetAuthToken(s.token.AccessToken)
}

func (s *Spotify) refresh() error {
	if s.token.RefreshToken == "" {
		return &tagger.UnauthorizedError{Platform: "spotify", Detail: "no refresh token cached"}
	}
	var token spotifyTokenResponse
	resp, err := resty.New().SetTimeout(tagger.RequestTimeout).R().
		SetBasicAuth(s.token.ClientID, s.token.ClientSecret).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": s.token.RefreshToken,
		}).
		SetResult(&token).
		Post(spotifyAccountsURL + "/api/token")
	if err != nil {
		return &tagger.TransportError{Transient: true, Err: err}
	}
	if resp.StatusCode() != 200 || token.AccessToken == "" {
		return &tagger.UnauthorizedError{Platform: "spotify",
			Detail: fmt.Sprintf("refresh failed: %s %s", token.Error, token.ErrorDesc)}
	}
	s.token.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		s.token.RefreshToken = token.RefreshToken
	}
	s.token.ExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	if err := s.store.put("spotify", s.token); err != nil {
		util.WarnLog("Failed to cache refreshed token: %v", err)
	}
	if s.client != nil {
		s.client.SetAuthToken(s.token.AccessToken)
	}
	return nil
}

// apiGet performs an authorized GET, refreshing the token once on 401
// and honoring 429 backoff.
func (s *Spotify) apiGet(path string, query map[string]string, out interface{}) error {
	deadline := time.Now().Add(tagger.MatchDeadline)
	refreshed := false
	for {
		resp, err := s.client.R().SetQueryParams(query).SetResult(out).Get(path)
		if err != nil {
			return &tagger.TransportError{Transient: true, Err: err}
		}
		switch {
		case resp.StatusCode() == 401 && !refreshed:
			refreshed = true
			if err := s.refresh(); err != nil {
				return err
			}
			continue
		case resp.StatusCode() == 401:
			return &tagger.UnauthorizedError{Platform: "spotify", Detail: "token rejected"}
		case resp.StatusCode() == 429:
			retryAfter := tagger.DefaultRateRetry
			if header := resp.Header().Get("Retry-After"); header != "" {
				if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
					retryAfter = time.Duration(secs) * time.Second
				}
			}
			if time.Now().Add(retryAfter).After(deadline) {
				return &tagger.RateLimitedError{RetryAfter: retryAfter}
			}
			time.Sleep(retryAfter)
			continue
		case resp.StatusCode() >= 500:
			return &tagger.TransportError{Transient: true,
				Err: fmt.Errorf("status %d", resp.StatusCode())}
		case resp.StatusCode() != 200:
			return &tagger.TransportError{Transient: false,
				Err: fmt.Errorf("status %d", resp.StatusCode())}
		}
		return nil
	}
}

type spotifySearchResponse struct {
	Tracks struct {
		Items []spotifyTrack `json:"items"`
	} `json:"tracks"`
}

type spotifyTrack struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DurationMS  int64  `json:"duration_ms"`
	TrackNumber int    `json:"track_number"`
	DiscNumber  int    `json:"disc_number"`
	ExternalIDs struct {
		ISRC string `json:"isrc"`
	} `json:"external_ids"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		ReleaseDate string `json:"release_date"`
		TotalTracks int    `json:"total_tracks"`
		Images      []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
}

// SearchTracks queries the catalog search endpoint
func (s *Spotify) SearchTracks(query string, limit int) ([]tagger.Track, error) {
	var result spotifySearchResponse
	err := s.apiGet("/search", map[string]string{
		"q":     query,
		"type":  "track",
		"limit": strconv.Itoa(limit),
	}, &result)
	if err != nil {
		return nil, err
	}
	var tracks []tagger.Track
	for _, item := range result.Tracks.Items {
		tracks = append(tracks, item.intoTrack())
	}
	return tracks, nil
}

func (t *spotifyTrack) intoTrack() tagger.Track {
	track := tagger.Track{
		PlatformID:  "spotify",
		TrackID:     t.ID,
		ReleaseID:   t.Album.ID,
		Title:       t.Name,
		Album:       t.Album.Name,
		ISRC:        t.ExternalIDs.ISRC,
		Duration:    time.Duration(t.DurationMS) * time.Millisecond,
		TrackNumber: t.TrackNumber,
		TrackTotal:  t.Album.TotalTracks,
		DiscNumber:  t.DiscNumber,
		URL:         t.ExternalURLs.Spotify,
	}
	for _, a := range t.Artists {
		track.Artists = append(track.Artists, a.Name)
	}
	if len(t.Album.Images) > 0 {
		track.ArtURL = t.Album.Images[0].URL
	}
	if date, ok := parseMBDate(t.Album.ReleaseDate); ok {
		track.ReleaseDate = date
	}
	return track
}

// AudioFeatures is the per-track analysis payload
type AudioFeatures struct {
	ID               string  `json:"id"`
	Danceability     float64 `json:"danceability"`
	Energy           float64 `json:"energy"`
	Speechiness      float64 `json:"speechiness"`
	Acousticness     float64 `json:"acousticness"`
	Instrumentalness float64 `json:"instrumentalness"`
	Liveness         float64 `json:"liveness"`
	Valence          float64 `json:"valence"`
	Tempo            float64 `json:"tempo"`
	KeyIndex         int     `json:"key"`
	Mode             int     `json:"mode"`
}

// TrackAudioFeatures fetches the analysis for one track id
func (s *Spotify) TrackAudioFeatures(trackID string) (*AudioFeatures, error) {
	var features AudioFeatures
	if err := s.apiGet("/audio-features/"+trackID, nil, &features); err != nil {
		return nil, err
	}
	if features.ID == "" {
		return nil, &tagger.ParseError{Detail: "empty audio features payload"}
	}
	return &features, nil
}

// pitch class to musical key, mode 1 = major
var pitchClasses = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Key renders the key index and mode as a human-readable key name
func (f *AudioFeatures) Key() string {
	if f.KeyIndex < 0 || f.KeyIndex >= len(pitchClasses) {
		return ""
	}
	suffix := "m"
	if f.Mode == 1 {
		suffix = ""
	}
	return pitchClasses[f.KeyIndex] + suffix
}

type spotifyBuilder struct{}

// SpotifyBuilder creates the Spotify matcher builder
func SpotifyBuilder() tagger.AutotaggerSourceBuilder { return &spotifyBuilder{} }

func (b *spotifyBuilder) Info() tagger.PlatformInfo {
	return tagger.PlatformInfo{
		ID:          "spotify",
		Name:        "Spotify",
		Description: "Requires authorization, run authorize-spotify first",
		MaxThreads:  4,
		CustomOptions: map[string]tagger.CustomOption{
			"client_id":     {Type: "string", Description: "Overrides the cached client id"},
			"client_secret": {Type: "string", Description: "Overrides the cached client secret"},
		},
	}
}

func (b *spotifyBuilder) Build(config *tagger.TaggerConfig) (tagger.AutotaggerSource, error) {
	clientID, _ := config.CustomString("spotify", "client_id")
	clientSecret, _ := config.CustomString("spotify", "client_secret")
	session, err := SpotifyCachedToken(clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	return &spotifySource{session: session}, nil
}

type spotifySource struct {
	session *Spotify
}

func (s *spotifySource) MatchTrack(info *tagger.AudioFileInfo, config *tagger.TaggerConfig) ([]tagger.TrackMatch, error) {
	// ISRC search is exact when available
	if info.ISRC != "" {
		candidates, err := s.session.SearchTracks("isrc:"+info.ISRC, 5)
		if err != nil {
			return nil, err
		}
		if match := tagger.MatchTrack(info, candidates, config); match != nil {
			return []tagger.TrackMatch{*match}, nil
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
	candidates, err := s.session.SearchTracks(
		fmt.Sprintf("%s %s", artist, tagger.CleanTitle(title)), 20)
	if err != nil {
		return nil, err
	}
	util.DebugLog("Spotify: %d candidates", len(candidates))

	if match := tagger.MatchTrack(info, candidates, config); match != nil {
		return []tagger.TrackMatch{*match}, nil
	}
	return nil, nil
}
