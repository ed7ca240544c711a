package autotag

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/franz/onetagger/internal/platforms"
	"github.com/franz/onetagger/internal/probe"
	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

// Tagger drives one autotagging run: a bounded worker pool per enabled
// platform, files flowing through platforms in priority order.
type Tagger struct {
	config   *tagger.TaggerConfig
	registry *platforms.Registry

	statuses  chan tagger.TaggingStatus
	cancelled atomic.Bool

	// probe results cached once per file across platforms
	probes sync.Map // path -> *probeResult

	// per-path write-back locks, keyed by canonical absolute path
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type probeResult struct {
	once sync.Once
	info *tagger.AudioFileInfo
	err  error
}

// pendingMatch is a winner awaiting write-back, with the source that
// produced it for optional track extension
type pendingMatch struct {
	match  tagger.TrackMatch
	source tagger.AutotaggerSource
}

// job is one file travelling down the platform chain
type job struct {
	path    string
	matches []pendingMatch
	// last matcher error, reported when no platform matched at all
	lastError string
}

// platformRunner is one platform's worker pool
type platformRunner struct {
	id       string
	source   tagger.AutotaggerSource
	threads  int
	jobs     chan *job
	disabled atomic.Bool
	next     *platformRunner
}

// NewTagger prepares a run
func NewTagger(config *tagger.TaggerConfig, registry *platforms.Registry) *Tagger {
	return &Tagger{
		config:   config,
		registry: registry,
		statuses: make(chan tagger.TaggingStatus, 1024),
		locks:    map[string]*sync.Mutex{},
	}
}

// Statuses is the run's event stream; closed when the run finishes
func (t *Tagger) Statuses() <-chan tagger.TaggingStatus {
	return t.statuses
}

// Cancel requests a cooperative stop. In-flight matches finish and are
// dropped; queued files report a skipped status.
func (t *Tagger) Cancel() {
	t.cancelled.Store(true)
}

// Run tags every file and closes the status channel when done. Call
// from its own goroutine; consume Statuses concurrently.
func (t *Tagger) Run(files []string) {
	defer close(t.statuses)

	runners := t.buildRunners()
	if len(runners) == 0 {
		for _, path := range files {
			t.emit(tagger.TaggingStatus{
				FilePath: path,
				State:    tagger.StateError,
				Message:  "no platform could be initialized",
			})
		}
		return
	}

	// Spin up each platform's pool; when a pool drains, it closes the
	// next platform's queue.
	var pools conc.WaitGroup
	for _, runner := range runners {
		runner := runner
		workers := conc.NewWaitGroup()
		for w := 0; w < runner.threads; w++ {
			workers.Go(func() { t.worker(runner) })
		}
		pools.Go(func() {
			workers.Wait()
			if runner.next != nil {
				close(runner.next.jobs)
			}
		})
	}

	// Seed the first platform
	for _, path := range files {
		runners[0].jobs <- &job{path: path}
	}
	close(runners[0].jobs)

	pools.Wait()

	if t.cancelled.Load() {
		util.InfoLog("Tagging cancelled")
	}
}

// buildRunners constructs matcher instances for the enabled platforms,
// in priority order. Builder failures disable the platform for the run.
func (t *Tagger) buildRunners() []*platformRunner {
	var runners []*platformRunner
	for _, id := range t.config.Platforms {
		builder, err := t.registry.Get(id)
		if err != nil {
			util.ErrorLog("Unknown platform %q, skipping", id)
			continue
		}
		info := builder.Info()
		source, err := builder.Build(t.config)
		if err != nil {
			util.ErrorLog("Platform %s disabled: %v", id, err)
			continue
		}
		threads := int(t.config.Threads)
		if info.MaxThreads > 0 && threads > info.MaxThreads {
			threads = info.MaxThreads
		}
		if threads < 1 {
			threads = 1
		}
		runners = append(runners, &platformRunner{
			id:      id,
			source:  source,
			threads: threads,
			jobs:    make(chan *job, threads*2),
		})
	}
	for i := 0; i+1 < len(runners); i++ {
		runners[i].next = runners[i+1]
	}
	return runners
}

// worker processes one platform's queue
func (t *Tagger) worker(runner *platformRunner) {
	for j := range runner.jobs {
		if t.cancelled.Load() {
			t.finalize(j, "cancelled")
			continue
		}
		t.process(runner, j)
	}
}

// process matches one file on one platform and routes the job onward
func (t *Tagger) process(runner *platformRunner, j *job) {
	if runner.disabled.Load() {
		t.forward(runner, j)
		return
	}

	info, err := t.probeFile(j.path)
	if err != nil {
		t.emit(tagger.TaggingStatus{
			FilePath: j.path,
			State:    tagger.StateError,
			Message:  fmt.Sprintf("probe failed: %v", err),
		})
		return
	}

	matches, err := t.matchWithRetry(runner, info)
	switch {
	case err != nil:
		var unauthorized *tagger.UnauthorizedError
		if errors.As(err, &unauthorized) {
			util.ErrorLog("Platform %s unauthorized, disabling for this run", runner.id)
			runner.disabled.Store(true)
		} else {
			util.WarnLog("%s: %s: %v", runner.id, j.path, err)
		}
		j.lastError = fmt.Sprintf("%s: %v", runner.id, err)
		t.forward(runner, j)

	case len(matches) > 0:
		util.DebugLog("%s matched %s (%.3f)", runner.id, j.path, matches[0].Accuracy)
		j.matches = append(j.matches, pendingMatch{match: matches[0], source: runner.source})
		if t.config.ContinueOnMatch && runner.next != nil {
			runner.next.jobs <- j
			return
		}
		t.finalize(j, "")

	default:
		util.DebugLog("%s: no match for %s", runner.id, j.path)
		t.forward(runner, j)
	}
}

// forward hands the job to the next platform, or finalizes it at the
// end of the chain
func (t *Tagger) forward(runner *platformRunner, j *job) {
	if runner.next != nil {
		runner.next.jobs <- j
		return
	}
	t.finalize(j, "")
}

// finalize emits the file's terminal status, performing write-back when
// a winner exists. skipReason marks a cancelled file.
func (t *Tagger) finalize(j *job, skipReason string) {
	if skipReason != "" {
		t.emit(tagger.TaggingStatus{
			FilePath: j.path,
			State:    tagger.StateSkipped,
			Message:  skipReason,
		})
		return
	}
	if len(j.matches) == 0 {
		if j.lastError != "" {
			t.emit(tagger.TaggingStatus{
				FilePath: j.path,
				State:    tagger.StateError,
				Message:  j.lastError,
			})
			return
		}
		t.emit(tagger.TaggingStatus{
			FilePath: j.path,
			State:    tagger.StateNoMatch,
		})
		return
	}

	// Results of a cancelled run are dropped, not written
	if t.cancelled.Load() {
		t.emit(tagger.TaggingStatus{
			FilePath: j.path,
			State:    tagger.StateSkipped,
			Message:  "cancelled",
		})
		return
	}

	primary := j.matches[0]
	track := primary.match.Track
	// Later-platform winners only fill fields the primary lacks
	for _, extra := range j.matches[1:] {
		mergeMissingFields(&track, &extra.match.Track)
	}

	if extender, ok := primary.source.(tagger.TrackExtender); ok {
		if err := extender.ExtendTrack(&track, t.config); err != nil {
			util.WarnLog("Track extension failed for %s: %v", j.path, err)
		}
	}

	if err := t.writeBack(j.path, &track); err != nil {
		t.emit(tagger.TaggingStatus{
			FilePath:     j.path,
			UsedPlatform: track.PlatformID,
			State:        tagger.StateError,
			Message:      err.Error(),
		})
		return
	}

	accuracy := primary.match.Accuracy
	t.emit(tagger.TaggingStatus{
		FilePath:     j.path,
		UsedPlatform: track.PlatformID,
		State:        tagger.StateOk,
		Accuracy:     &accuracy,
		Reasons:      primary.match.Reasons,
	})
}

// matchWithRetry calls the matcher, retrying transient transport errors
// with exponential backoff. Panics in a matcher are contained to the
// file being processed.
func (t *Tagger) matchWithRetry(runner *platformRunner, info *tagger.AudioFileInfo) (matches []tagger.TrackMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			matches = nil
			err = fmt.Errorf("fatal: matcher panic: %v", r)
		}
	}()

	cfg := &util.RetryConfig{
		MaxAttempts: int(t.config.MaxRetries) + 1,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     30 * time.Second,
	}
	return util.RetryWithBackoff(cfg, func() ([]tagger.TrackMatch, error) {
		return runner.source.MatchTrack(info, t.config)
	}, transientMatcherError, runner.id+" match")
}

// transientMatcherError classifies which matcher errors deserve a retry
func transientMatcherError(err error) bool {
	var transport *tagger.TransportError
	if errors.As(err, &transport) {
		return transport.Transient
	}
	var rateLimited *tagger.RateLimitedError
	return errors.As(err, &rateLimited)
}

// probeFile probes a path once per run, shared across platforms
func (t *Tagger) probeFile(path string) (*tagger.AudioFileInfo, error) {
	entry, _ := t.probes.LoadOrStore(path, &probeResult{})
	result := entry.(*probeResult)
	result.once.Do(func() {
		result.info, result.err = probe.File(path, true)
	})
	return result.info, result.err
}

// pathLock returns the write-back lock for a canonical path
func (t *Tagger) pathLock(path string) *sync.Mutex {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()
	lock, ok := t.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[path] = lock
	}
	return lock
}

func (t *Tagger) emit(status tagger.TaggingStatus) {
	t.statuses <- status
}

// mergeMissingFields copies fields the primary track lacks from a
// lower-priority winner
func mergeMissingFields(dst, src *tagger.Track) {
	if dst.Album == "" {
		dst.Album = src.Album
	}
	if len(dst.AlbumArtists) == 0 {
		dst.AlbumArtists = src.AlbumArtists
	}
	if len(dst.Genres) == 0 {
		dst.Genres = src.Genres
	}
	if len(dst.Styles) == 0 {
		dst.Styles = src.Styles
	}
	if dst.Label == "" {
		dst.Label = src.Label
	}
	if dst.CatalogNumber == "" {
		dst.CatalogNumber = src.CatalogNumber
	}
	if dst.BPM == 0 {
		dst.BPM = src.BPM
	}
	if dst.Key == "" {
		dst.Key = src.Key
	}
	if dst.ISRC == "" {
		dst.ISRC = src.ISRC
	}
	if dst.ReleaseDate == nil {
		dst.ReleaseDate = src.ReleaseDate
		dst.ReleaseYear = src.ReleaseYear
	}
	if dst.ArtURL == "" {
		dst.ArtURL = src.ArtURL
	}
	if dst.Lyrics == "" {
		dst.Lyrics = src.Lyrics
	}
	if dst.Mood == "" {
		dst.Mood = src.Mood
	}
	if len(dst.Remixers) == 0 {
		dst.Remixers = src.Remixers
	}
	if dst.TrackNumber == 0 {
		dst.TrackNumber = src.TrackNumber
		dst.TrackTotal = src.TrackTotal
	}
	if dst.DiscNumber == 0 {
		dst.DiscNumber = src.DiscNumber
	}
}
