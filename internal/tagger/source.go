package tagger

// PlatformInfo describes a matcher to the UI and the scheduler
type PlatformInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        []byte `json:"-"`
	// Hard cap on concurrent match_track calls for this platform
	MaxThreads int `json:"max_threads"`
	// Free-form schema of the platform's custom options
	CustomOptions map[string]CustomOption `json:"custom_options,omitempty"`
}

// CustomOption documents one entry of a platform's option bag
type CustomOption struct {
	Type        string      `json:"type"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required,omitempty"`
}

// AutotaggerSource is one platform matcher instance. MatchTrack may be
// called concurrently from up to MaxThreads workers; implementations
// serialize shared HTTP clients and rate limiters internally.
type AutotaggerSource interface {
	// MatchTrack returns candidate matches for a probed file, best first.
	// An empty slice with nil error means no match.
	MatchTrack(info *AudioFileInfo, config *TaggerConfig) ([]TrackMatch, error)
}

// TrackExtender is implemented by sources whose search results omit
// fields available on a per-track detail page. Called once on the
// winning track before write-back.
type TrackExtender interface {
	ExtendTrack(track *Track, config *TaggerConfig) error
}

// AutotaggerSourceBuilder constructs matcher instances. Build may perform
// login or token refresh and fails with UnauthorizedError,
// ConfigMissingError or TransportError.
type AutotaggerSourceBuilder interface {
	Info() PlatformInfo
	Build(config *TaggerConfig) (AutotaggerSource, error)
}
