package tag

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"
)

// vorbisField maps semantic fields to Vorbis comment keys (uppercase).
// Shared by the FLAC and OGG containers.
var vorbisField = map[Field]string{
	Title:         "TITLE",
	Artist:        "ARTIST",
	AlbumArtist:   "ALBUMARTIST",
	Album:         "ALBUM",
	Genre:         "GENRE",
	Style:         "STYLE",
	BPM:           "BPM",
	Key:           "INITIALKEY",
	Label:         "LABEL",
	ISRC:          "ISRC",
	CatalogNumber: "CATALOGNUMBER",
	TrackNumber:   "TRACKNUMBER",
	TrackTotal:    "TRACKTOTAL",
	DiscNumber:    "DISCNUMBER",
	Duration:      "LENGTH",
	Remixer:       "REMIXER",
	Version:       "VERSION",
	Mood:          "MOOD",
}

// vorbisComments is a mutable multimap of comment key -> values, the
// shared semantic layer of the FLAC and OGG containers.
type vorbisComments struct {
	vendor string
	keys   []string // insertion order of first appearance
	values map[string][]string
}

func newVorbisComments(vendor string) *vorbisComments {
	return &vorbisComments{vendor: vendor, values: map[string][]string{}}
}

func (c *vorbisComments) add(key, value string) {
	key = strings.ToUpper(key)
	if _, seen := c.values[key]; !seen {
		c.keys = append(c.keys, key)
	}
	c.values[key] = append(c.values[key], value)
}

func (c *vorbisComments) get(key string) []string {
	return c.values[strings.ToUpper(key)]
}

func (c *vorbisComments) set(key string, values []string) {
	key = strings.ToUpper(key)
	if len(values) == 0 {
		delete(c.values, key)
		return
	}
	if _, seen := c.values[key]; !seen {
		c.keys = append(c.keys, key)
	}
	c.values[key] = values
}

func (c *vorbisComments) getField(field Field) []string {
	key, ok := vorbisField[field]
	if !ok {
		return nil
	}
	return c.get(key)
}

// setField stores values natively as repeated comment entries; Vorbis
// comments have list support, so the separator is ignored.
func (c *vorbisComments) setField(field Field, values []string) {
	key, ok := vorbisField[field]
	if !ok {
		return
	}
	c.set(key, dropEmpty(values))
}

func (c *vorbisComments) date() (Date, bool) {
	vals := c.get("DATE")
	if len(vals) == 0 {
		vals = c.get("YEAR")
	}
	if len(vals) == 0 {
		return Date{}, false
	}
	return parseDate(vals[0])
}

func (c *vorbisComments) setDate(date Date) {
	if date.Year == 0 {
		c.set("DATE", nil)
		return
	}
	if date.HasDay() {
		c.set("DATE", []string{fmt.Sprintf("%04d-%02d-%02d", date.Year, date.Month, date.Day)})
		return
	}
	c.set("DATE", []string{fmt.Sprintf("%04d", date.Year)})
}

func (c *vorbisComments) rating() int {
	vals := c.get("RATING")
	if len(vals) == 0 {
		return 0
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil || n < 1 {
		return 0
	}
	if n > 5 {
		n = 5
	}
	return n
}

func (c *vorbisComments) setRating(stars int) {
	if stars < 1 {
		c.set("RATING", nil)
		return
	}
	if stars > 5 {
		stars = 5
	}
	c.set("RATING", []string{strconv.Itoa(stars)})
}

// flacTag adapts a FLAC file's VORBIS_COMMENT and PICTURE blocks
type flacTag struct {
	path     string
	file     *flac.File
	comments *vorbisComments
	pictures []Picture
}

func loadFLAC(path string, readImages bool) (*flacTag, error) {
	f, err := flac.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parse flac: %w", err)
	}

	t := &flacTag{path: path, file: f, comments: newVorbisComments("")}

	for _, meta := range f.Meta {
		switch meta.Type {
		case flac.VorbisComment:
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*meta)
			if err != nil {
				continue
			}
			t.comments.vendor = cmt.Vendor
			for _, entry := range cmt.Comments {
				key, value, found := strings.Cut(entry, "=")
				if found {
					t.comments.add(key, value)
				}
			}
		case flac.Picture:
			if !readImages {
				continue
			}
			pic, err := flacpicture.ParseFromMetaDataBlock(*meta)
			if err != nil {
				continue
			}
			kind := PictureOther
			if pic.PictureType == flacpicture.PictureTypeFrontCover {
				kind = PictureFrontCover
			}
			t.pictures = append(t.pictures, Picture{
				Kind:        kind,
				MIMEType:    pic.MIME,
				Description: pic.Description,
				Data:        pic.ImageData,
			})
		}
	}

	return t, nil
}

func (t *flacTag) Get(field Field) []string              { return t.comments.getField(field) }
func (t *flacTag) Set(field Field, values []string, _ string) { t.comments.setField(field, values) }
func (t *flacTag) GetRaw(id string) []string             { return t.comments.get(id) }
func (t *flacTag) SetRaw(id string, values []string)     { t.comments.set(id, dropEmpty(values)) }
func (t *flacTag) Art() []Picture                        { return t.pictures }
func (t *flacTag) SetArt(pictures []Picture)             { t.pictures = pictures }
func (t *flacTag) Date() (Date, bool)                    { return t.comments.date() }
func (t *flacTag) SetDate(date Date)                     { t.comments.setDate(date) }
func (t *flacTag) Rating() int                           { return t.comments.rating() }
func (t *flacTag) SetRating(stars int)                   { t.comments.setRating(stars) }

func (t *flacTag) Save() error {
	// Fresh comment block, preserving the vendor string
	cmts := flacvorbis.New()
	cmts.Vendor = t.comments.vendor
	for _, key := range t.comments.keys {
		for _, value := range t.comments.values[key] {
			if err := cmts.Add(key, value); err != nil {
				return fmt.Errorf("add comment %s: %w", key, err)
			}
		}
	}
	cmtBlock := cmts.Marshal()

	// Rebuild metadata: drop old comment and picture blocks
	var meta []*flac.MetaDataBlock
	for _, m := range t.file.Meta {
		if m.Type == flac.VorbisComment || m.Type == flac.Picture {
			continue
		}
		meta = append(meta, m)
	}
	meta = append(meta, &cmtBlock)

	for _, p := range t.pictures {
		ptype := flacpicture.PictureTypeOther
		if p.Kind == PictureFrontCover {
			ptype = flacpicture.PictureTypeFrontCover
		}
		pic, err := flacpicture.NewFromImageData(ptype, p.Description, p.Data, p.MIMEType)
		if err != nil {
			return fmt.Errorf("build picture block: %w", err)
		}
		picBlock := pic.Marshal()
		meta = append(meta, &picBlock)
	}

	t.file.Meta = meta
	if err := t.file.Save(t.path); err != nil {
		return fmt.Errorf("save flac: %w", err)
	}
	return nil
}
