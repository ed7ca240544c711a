package platforms

import (
	"fmt"
	"sort"
	"sync"

	"github.com/franz/onetagger/internal/tagger"
)

// Registry resolves platform ids to matcher builders. Built-in platforms
// register at construction; plugin loaders add theirs afterwards.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]tagger.AutotaggerSourceBuilder
}

// NewEmptyRegistry returns a registry with no platforms registered
func NewEmptyRegistry() *Registry {
	return &Registry{builders: map[string]tagger.AutotaggerSourceBuilder{}}
}

// NewRegistry returns a registry holding every built-in platform
func NewRegistry() *Registry {
	r := &Registry{builders: map[string]tagger.AutotaggerSourceBuilder{}}
	for _, b := range []tagger.AutotaggerSourceBuilder{
		ITunesBuilder(),
		MusicBrainzBuilder(),
		BeatportBuilder(),
		BandcampBuilder(),
		SpotifyBuilder(),
	} {
		r.Register(b)
	}
	return r
}

// Register adds a builder; a later registration under the same id wins
func (r *Registry) Register(builder tagger.AutotaggerSourceBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[builder.Info().ID] = builder
}

// Get resolves one platform id
func (r *Registry) Get(id string) (tagger.AutotaggerSourceBuilder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	builder, ok := r.builders[id]
	if !ok {
		return nil, fmt.Errorf("unknown platform: %s", id)
	}
	return builder, nil
}

// IDs lists the registered platform ids, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.builders))
	for id := range r.builders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
