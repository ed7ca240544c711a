// Package probe extracts identifying fields from a file's existing tag
// for use as the match query.
package probe

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	dhowden "github.com/dhowden/tag"

	"github.com/franz/onetagger/internal/tag"
	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

var formatByContainer = map[tag.Format]tagger.AudioFormat{
	tag.MP3:  tagger.FormatMP3,
	tag.FLAC: tagger.FormatFLAC,
	tag.AIFF: tagger.FormatAIFF,
	tag.MP4:  tagger.FormatMP4,
	tag.OGG:  tagger.FormatOGG,
	tag.WAV:  tagger.FormatWAV,
}

// File probes a path with a read-only tag handle. It fails when both
// title and artist are missing, unless allowISRCOnly is set and the tag
// carries an ISRC usable for identifier lookups.
func File(path string, allowISRCOnly bool) (*tagger.AudioFileInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	format, err := tag.FormatOf(abs)
	if err != nil {
		return nil, err
	}

	info := &tagger.AudioFileInfo{
		Path:   abs,
		Format: formatByContainer[format],
	}

	t, err := tag.Load(abs, false)
	if err != nil {
		util.DebugLog("Native tag read failed for %s, falling back: %v", abs, err)
		if err := fallbackProbe(abs, info); err != nil {
			return nil, err
		}
	} else {
		fillFromTag(t, info)
	}

	if info.Title == "" && info.Artist == "" {
		if allowISRCOnly && info.ISRC != "" {
			return info, nil
		}
		return nil, fmt.Errorf("missing title and artist tag: %s", abs)
	}
	return info, nil
}

func fillFromTag(t tag.Tag, info *tagger.AudioFileInfo) {
	info.Title = first(t.Get(tag.Title))
	info.Artist = first(t.Get(tag.Artist))
	info.Album = first(t.Get(tag.Album))
	info.ISRC = strings.TrimSpace(first(t.Get(tag.ISRC)))
	if v := first(t.Get(tag.TrackNumber)); v != "" {
		info.TrackNumber, _ = strconv.Atoi(strings.SplitN(v, "/", 2)[0])
	}
	if v := first(t.Get(tag.BPM)); v != "" {
		bpm, err := strconv.ParseFloat(v, 64)
		if err == nil {
			info.BPM = int64(bpm + 0.5)
		}
	}
	if v := first(t.Get(tag.Duration)); v != "" {
		info.DurationMS, _ = strconv.ParseInt(v, 10, 64)
	}
	if date, ok := t.Date(); ok {
		info.ReleaseYear = date.Year
	}
}

// fallbackProbe reads with the generic tag library when the native
// container parser rejects the file
func fallbackProbe(path string, info *tagger.AudioFileInfo) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := dhowden.ReadFrom(f)
	if err != nil {
		return fmt.Errorf("read tags: %w", err)
	}
	info.Title = m.Title()
	info.Artist = m.Artist()
	info.Album = m.Album()
	if m.Year() > 0 {
		info.ReleaseYear = m.Year()
	}
	track, _ := m.Track()
	info.TrackNumber = track
	return nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
