package tag

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
)

type id3Container int

const (
	id3ContainerMP3 id3Container = iota
	id3ContainerAIFF
	id3ContainerWAV
)

// id3Field maps semantic fields to ID3v2.4 frame IDs. TXXX-backed fields
// use the "TXXX:<description>" form.
var id3Field = map[Field]string{
	Title:         "TIT2",
	Artist:        "TPE1",
	AlbumArtist:   "TPE2",
	Album:         "TALB",
	Genre:         "TCON",
	Style:         "TXXX:STYLE",
	BPM:           "TBPM",
	Key:           "TKEY",
	Label:         "TPUB",
	ISRC:          "TSRC",
	CatalogNumber: "TXXX:CATALOGNUMBER",
	TrackNumber:   "TRCK",
	TrackTotal:    "TXXX:TRACKTOTAL",
	DiscNumber:    "TPOS",
	Duration:      "TLEN",
	Remixer:       "TPE4",
	Version:       "TIT3",
	Mood:          "TMOO",
}

// id3Tag adapts an id3v2 tag to the Tag interface for MP3, AIFF and the
// ID3 chunk of WAV files.
type id3Tag struct {
	path      string
	container id3Container
	tag       *id3v2.Tag
	// AIFF only: original file bytes for chunk splicing on save
	raw []byte
}

func loadID3(path string, container id3Container, readImages bool) (*id3Tag, error) {
	switch container {
	case id3ContainerMP3:
		// Parse from a short-lived handle; Save reopens the file
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		t, err := id3v2.ParseReader(f, id3v2.Options{Parse: true})
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse mp3 tag: %w", err)
		}
		t.SetVersion(4)
		t.SetDefaultEncoding(id3v2.EncodingUTF8)
		return &id3Tag{path: path, container: container, tag: t}, nil

	case id3ContainerAIFF:
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		chunk := aiffID3Chunk(raw)
		var t *id3v2.Tag
		if chunk != nil {
			t, err = id3v2.ParseReader(bytes.NewReader(chunk), id3v2.Options{Parse: true})
			if err != nil {
				t = nil
			}
		}
		if t == nil {
			t = id3v2.NewEmptyTag()
		}
		t.SetVersion(4)
		t.SetDefaultEncoding(id3v2.EncodingUTF8)
		return &id3Tag{path: path, container: container, tag: t, raw: raw}, nil
	}
	return nil, fmt.Errorf("unsupported id3 container")
}

// newID3FromChunk parses a serialized ID3 blob (WAV `id3 ` chunk)
func newID3FromChunk(path string, chunk []byte) *id3Tag {
	var t *id3v2.Tag
	if len(chunk) > 0 {
		if parsed, err := id3v2.ParseReader(bytes.NewReader(chunk), id3v2.Options{Parse: true}); err == nil {
			t = parsed
		}
	}
	if t == nil {
		t = id3v2.NewEmptyTag()
	}
	t.SetVersion(4)
	t.SetDefaultEncoding(id3v2.EncodingUTF8)
	return &id3Tag{path: path, container: id3ContainerWAV, tag: t}
}

func (t *id3Tag) Get(field Field) []string {
	id, ok := id3Field[field]
	if !ok {
		return nil
	}
	return t.GetRaw(id)
}

func (t *id3Tag) Set(field Field, values []string, separator string) {
	id, ok := id3Field[field]
	if !ok {
		return
	}
	values = dropEmpty(values)
	if desc, isTXXX := strings.CutPrefix(id, "TXXX:"); isTXXX {
		t.setUserFrame(desc, joinValues(values, separator))
		return
	}
	t.tag.DeleteFrames(id)
	if len(values) > 0 {
		t.tag.AddTextFrame(id, id3v2.EncodingUTF8, joinValues(values, separator))
	}
}

func (t *id3Tag) GetRaw(id string) []string {
	if desc, isTXXX := strings.CutPrefix(id, "TXXX:"); isTXXX {
		for _, frame := range t.tag.GetFrames(t.tag.CommonID("User defined text information frame")) {
			if udf, ok := frame.(id3v2.UserDefinedTextFrame); ok && udf.Description == desc {
				return []string{udf.Value}
			}
		}
		return nil
	}
	text := t.tag.GetTextFrame(id).Text
	if text == "" {
		return nil
	}
	return []string{text}
}

func (t *id3Tag) SetRaw(id string, values []string) {
	values = dropEmpty(values)
	if desc, isTXXX := strings.CutPrefix(id, "TXXX:"); isTXXX {
		t.setUserFrame(desc, strings.Join(values, "\x00"))
		return
	}
	t.tag.DeleteFrames(id)
	for _, v := range values {
		t.tag.AddTextFrame(id, id3v2.EncodingUTF8, v)
	}
}

func (t *id3Tag) setUserFrame(description, value string) {
	id := t.tag.CommonID("User defined text information frame")
	kept := []id3v2.UserDefinedTextFrame{}
	for _, frame := range t.tag.GetFrames(id) {
		if udf, ok := frame.(id3v2.UserDefinedTextFrame); ok && udf.Description != description {
			kept = append(kept, udf)
		}
	}
	t.tag.DeleteFrames(id)
	for _, udf := range kept {
		t.tag.AddUserDefinedTextFrame(udf)
	}
	if value != "" {
		t.tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
			Encoding:    id3v2.EncodingUTF8,
			Description: description,
			Value:       value,
		})
	}
}

func (t *id3Tag) Art() []Picture {
	var out []Picture
	for _, frame := range t.tag.GetFrames(t.tag.CommonID("Attached picture")) {
		pf, ok := frame.(id3v2.PictureFrame)
		if !ok {
			continue
		}
		kind := PictureOther
		if pf.PictureType == id3v2.PTFrontCover {
			kind = PictureFrontCover
		}
		out = append(out, Picture{
			Kind:        kind,
			MIMEType:    pf.MimeType,
			Description: pf.Description,
			Data:        pf.Picture,
		})
	}
	return out
}

func (t *id3Tag) SetArt(pictures []Picture) {
	t.tag.DeleteFrames(t.tag.CommonID("Attached picture"))
	for _, p := range pictures {
		ptype := byte(id3v2.PTOther)
		if p.Kind == PictureFrontCover {
			ptype = id3v2.PTFrontCover
		}
		t.tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    p.MIMEType,
			PictureType: ptype,
			Description: p.Description,
			Picture:     p.Data,
		})
	}
}

func (t *id3Tag) Date() (Date, bool) {
	text := t.tag.GetTextFrame("TDRC").Text
	if text == "" {
		text = t.tag.GetTextFrame("TYER").Text
	}
	return parseDate(text)
}

func (t *id3Tag) SetDate(date Date) {
	t.tag.DeleteFrames("TDRC")
	if date.Year == 0 {
		return
	}
	if date.HasDay() {
		t.tag.AddTextFrame("TDRC", id3v2.EncodingUTF8,
			fmt.Sprintf("%04d-%02d-%02d", date.Year, date.Month, date.Day))
		return
	}
	t.tag.AddTextFrame("TDRC", id3v2.EncodingUTF8, fmt.Sprintf("%04d", date.Year))
}

// POPM byte values for stars 1..5
var popmBytes = []uint8{0, 64, 128, 196, 255}

func (t *id3Tag) Rating() int {
	for _, frame := range t.tag.GetFrames("POPM") {
		popm, ok := frame.(id3v2.PopularimeterFrame)
		if !ok {
			continue
		}
		switch {
		case popm.Rating >= 255:
			return 5
		case popm.Rating >= 196:
			return 4
		case popm.Rating >= 128:
			return 3
		case popm.Rating >= 64:
			return 2
		default:
			return 1
		}
	}
	return 0
}

func (t *id3Tag) SetRating(stars int) {
	t.tag.DeleteFrames("POPM")
	if stars < 1 {
		return
	}
	if stars > 5 {
		stars = 5
	}
	t.tag.AddFrame("POPM", id3v2.PopularimeterFrame{
		Email:   "no@email",
		Rating:  popmBytes[stars-1],
		Counter: big.NewInt(0),
	})
}

func (t *id3Tag) Save() error {
	switch t.container {
	case id3ContainerMP3:
		return t.saveMP3()
	case id3ContainerAIFF:
		return t.saveAIFF()
	}
	return fmt.Errorf("chunk-backed tag saved by its container")
}

// saveMP3 reopens the file and replaces its tag with the in-memory
// frames
func (t *id3Tag) saveMP3() error {
	out, err := id3v2.Open(t.path, id3v2.Options{Parse: false})
	if err != nil {
		return fmt.Errorf("open mp3 for writing: %w", err)
	}
	defer out.Close()
	out.SetVersion(4)
	out.SetDefaultEncoding(id3v2.EncodingUTF8)
	out.DeleteAllFrames()
	for id, frames := range t.tag.AllFrames() {
		for _, frame := range frames {
			out.AddFrame(id, frame)
		}
	}
	return out.Save()
}

// serialize renders the tag to bytes (used by the WAV container)
func (t *id3Tag) serialize() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := t.tag.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// aiffID3Chunk returns the payload of the ID3 chunk inside an AIFF FORM,
// or nil when absent
func aiffID3Chunk(raw []byte) []byte {
	if len(raw) < 12 || string(raw[0:4]) != "FORM" {
		return nil
	}
	offset := 12
	for offset+8 <= len(raw) {
		id := string(raw[offset : offset+4])
		size := int(binary.BigEndian.Uint32(raw[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(raw) {
			return nil
		}
		if id == "ID3 " || id == "id3 " {
			return raw[body : body+size]
		}
		offset = body + size
		if size%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}
	return nil
}

// saveAIFF splices the serialized ID3 chunk back into the AIFF FORM,
// preserving every other chunk untouched.
func (t *id3Tag) saveAIFF() error {
	if len(t.raw) < 12 || string(t.raw[0:4]) != "FORM" {
		return fmt.Errorf("not an aiff file: %s", t.path)
	}
	id3Data, err := t.serialize()
	if err != nil {
		return err
	}

	var body bytes.Buffer
	body.Write(t.raw[8:12]) // form type, usually AIFF or AIFC

	offset := 12
	for offset+8 <= len(t.raw) {
		id := string(t.raw[offset : offset+4])
		size := int(binary.BigEndian.Uint32(t.raw[offset+4 : offset+8]))
		start := offset + 8
		if start+size > len(t.raw) {
			break
		}
		if id != "ID3 " && id != "id3 " {
			body.Write(t.raw[offset : start+size])
			if size%2 == 1 {
				body.WriteByte(0)
			}
		}
		offset = start + size
		if size%2 == 1 {
			offset++
		}
	}

	writeBigChunk(&body, "ID3 ", id3Data)

	var out bytes.Buffer
	out.WriteString("FORM")
	binary.Write(&out, binary.BigEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return os.WriteFile(t.path, out.Bytes(), 0o644)
}

func writeBigChunk(buf *bytes.Buffer, id string, data []byte) {
	buf.WriteString(id)
	binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
	if len(data)%2 == 1 {
		buf.WriteByte(0)
	}
}

func parseDate(text string) (Date, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Date{}, false
	}
	// yyyy-MM-dd, yyyy-MM or yyyy
	parts := strings.SplitN(text, "-", 3)
	year, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || year == 0 {
		return Date{}, false
	}
	d := Date{Year: year}
	if len(parts) > 1 {
		d.Month, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		day := parts[2]
		if len(day) > 2 {
			day = day[:2]
		}
		d.Day, _ = strconv.Atoi(day)
	}
	return d, true
}
