package probe

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"
)

func writeWAV(t *testing.T, name string, frames map[string]string) string {
	t.Helper()
	id3tag := id3v2.NewEmptyTag()
	id3tag.SetVersion(4)
	id3tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	for id, value := range frames {
		id3tag.AddTextFrame(id, id3v2.EncodingUTF8, value)
	}
	var id3buf bytes.Buffer
	if _, err := id3tag.WriteTo(&id3buf); err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	body.WriteString("WAVE")
	chunk := func(id string, data []byte) {
		body.WriteString(id)
		binary.Write(&body, binary.LittleEndian, uint32(len(data)))
		body.Write(data)
		if len(data)%2 == 1 {
			body.WriteByte(0)
		}
	}
	chunk("fmt ", make([]byte, 16))
	chunk("data", []byte{0, 0})
	chunk("id3 ", id3buf.Bytes())

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbeReadsIdentifyingFields(t *testing.T) {
	path := writeWAV(t, "a.wav", map[string]string{
		"TIT2": "Strobe",
		"TPE1": "deadmau5",
		"TALB": "For Lack Of A Better Name",
		"TSRC": "USUS11000001",
		"TRCK": "10/11",
		"TDRC": "2009-09-22",
	})

	info, err := File(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if info.Title != "Strobe" || info.Artist != "deadmau5" {
		t.Errorf("title/artist = %q/%q", info.Title, info.Artist)
	}
	if info.Album != "For Lack Of A Better Name" {
		t.Errorf("album = %q", info.Album)
	}
	if info.ISRC != "USUS11000001" {
		t.Errorf("isrc = %q", info.ISRC)
	}
	if info.TrackNumber != 10 {
		t.Errorf("track number = %d", info.TrackNumber)
	}
	if info.ReleaseYear != 2009 {
		t.Errorf("year = %d", info.ReleaseYear)
	}
	if !filepath.IsAbs(info.Path) {
		t.Errorf("path not absolute: %s", info.Path)
	}
}

func TestProbeRejectsUntaggedFile(t *testing.T) {
	path := writeWAV(t, "bare.wav", nil)
	if _, err := File(path, false); err == nil {
		t.Error("expected failure without title and artist")
	}
}

func TestProbeISRCOnly(t *testing.T) {
	path := writeWAV(t, "isrc.wav", map[string]string{"TSRC": "USUS11000001"})

	if _, err := File(path, false); err == nil {
		t.Error("ISRC-only file accepted without the flag")
	}
	info, err := File(path, true)
	if err != nil {
		t.Fatalf("ISRC-only probe failed: %v", err)
	}
	if info.ISRC != "USUS11000001" {
		t.Errorf("isrc = %q", info.ISRC)
	}
}
