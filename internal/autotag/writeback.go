package autotag

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strconv"

	"github.com/go-resty/resty/v2"
	"golang.org/x/image/draw"

	"github.com/franz/onetagger/internal/tag"
	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

const artJPEGQuality = 90

// writeBack merges the matched track into the file's tag according to
// the per-field enable flags and saves it. Holds the per-path lock for
// the whole read-modify-write.
func (t *Tagger) writeBack(path string, track *tagger.Track) error {
	lock := t.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	handle, err := tag.Load(path, true)
	if err != nil {
		return &tagger.WriteBackError{Path: path, Err: err}
	}

	config := t.config
	sep := config.Separator

	setField := func(enabled bool, field tag.Field, values []string) {
		if !enabled || len(values) == 0 {
			return
		}
		if !config.Overwrite && len(handle.Get(field)) > 0 {
			return
		}
		handle.Set(field, values, sep)
	}

	setField(config.EnableTitle, tag.Title, []string{track.Title})
	setField(config.EnableArtist, tag.Artist, track.Artists)
	setField(config.EnableAlbum, tag.Album, []string{track.Album})
	setField(config.EnableAlbum, tag.AlbumArtist, track.AlbumArtists)
	setField(config.EnableStyle, tag.Style, track.Styles)
	setField(config.EnableKey, tag.Key, []string{track.Key})
	setField(config.EnableLabel, tag.Label, []string{track.Label})
	setField(config.EnableISRC, tag.ISRC, []string{track.ISRC})
	setField(config.EnableCatalogNumber, tag.CatalogNumber, []string{track.CatalogNumber})
	setField(config.EnableMood, tag.Mood, []string{track.Mood})
	setField(config.EnableRemixer, tag.Remixer, track.Remixers)

	if track.BPM > 0 {
		setField(config.EnableBPM, tag.BPM, []string{strconv.FormatInt(track.BPM, 10)})
	}
	if track.TrackNumber > 0 {
		setField(config.EnableTrackNumber, tag.TrackNumber, []string{strconv.Itoa(track.TrackNumber)})
	}
	if track.TrackTotal > 0 {
		setField(config.EnableTrackNumber, tag.TrackTotal, []string{strconv.Itoa(track.TrackTotal)})
	}
	if track.DiscNumber > 0 {
		setField(config.EnableDiscNumber, tag.DiscNumber, []string{strconv.Itoa(track.DiscNumber)})
	}

	// Genres either merge with or replace the existing list
	if config.EnableGenre && len(track.Genres) > 0 {
		existing := handle.Get(tag.Genre)
		switch {
		case config.MergeGenres:
			handle.Set(tag.Genre, mergeLists(existing, track.Genres), sep)
		case len(existing) == 0 || config.Overwrite:
			handle.Set(tag.Genre, track.Genres, sep)
		}
	}

	if config.EnableLyrics && track.Lyrics != "" {
		if config.Overwrite || len(handle.GetRaw("USLT")) == 0 {
			handle.SetRaw("USLT", []string{track.Lyrics})
		}
	}

	// Full date when known, bare year otherwise
	if config.EnableReleaseDate {
		_, hasDate := handle.Date()
		if config.Overwrite || !hasDate {
			if track.ReleaseDate != nil {
				handle.SetDate(tag.Date{
					Year:  track.ReleaseDate.Year(),
					Month: int(track.ReleaseDate.Month()),
					Day:   track.ReleaseDate.Day(),
				})
			} else if track.Year() > 0 {
				handle.SetDate(tag.Date{Year: track.Year()})
			}
		}
	}

	if config.EnableArt && track.ArtURL != "" {
		if config.Overwrite || len(handle.Art()) == 0 {
			if picture, err := t.downloadArt(track.ArtURL); err == nil {
				handle.SetArt([]tag.Picture{*picture})
			} else {
				util.WarnLog("Cover download failed for %s: %v", path, err)
			}
		}
	}

	if err := handle.Save(); err != nil {
		return &tagger.WriteBackError{Path: path, Err: err}
	}
	return nil
}

// downloadArt fetches a cover, downscales it to max_art_size on the
// longest edge and re-encodes as JPEG.
func (t *Tagger) downloadArt(url string) (*tag.Picture, error) {
	resp, err := resty.New().SetTimeout(tagger.RequestTimeout).R().Get(url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("status %d", resp.StatusCode())
	}

	img, _, err := image.Decode(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("decode cover: %w", err)
	}

	img = downscale(img, t.config.MaxArtSize)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: artJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode cover: %w", err)
	}
	return &tag.Picture{
		Kind:        tag.PictureFrontCover,
		MIMEType:    "image/jpeg",
		Description: "Front Cover",
		Data:        buf.Bytes(),
	}, nil
}

// downscale caps the longest edge at maxSize, preserving aspect ratio
func downscale(img image.Image, maxSize int) image.Image {
	if maxSize <= 0 {
		return img
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// mergeLists appends missing entries of add to base, case-insensitively
func mergeLists(base, add []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range base {
		seen[normalizeKey(v)] = true
		out = append(out, v)
	}
	for _, v := range add {
		if !seen[normalizeKey(v)] {
			seen[normalizeKey(v)] = true
			out = append(out, v)
		}
	}
	return out
}

func normalizeKey(s string) string {
	return tagger.CleanTitle(s)
}
