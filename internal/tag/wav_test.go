package tag

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildWAV assembles a minimal RIFF/WAVE file from chunks
func buildWAV(t *testing.T, chunks ...riffChunk) string {
	t.Helper()
	var body bytes.Buffer
	body.WriteString("WAVE")
	for _, c := range chunks {
		writeRIFFChunk(&body, c.id, c.data)
	}
	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())

	path := filepath.Join(t.TempDir(), "test.wav")
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func infoList(entries ...[2]string) []byte {
	var list bytes.Buffer
	list.WriteString("INFO")
	for _, e := range entries {
		writeRIFFChunk(&list, e[0], append([]byte(e[1]), 0))
	}
	return list.Bytes()
}

func fmtChunk() riffChunk {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint16(data[0:2], 1)      // PCM
	binary.LittleEndian.PutUint16(data[2:4], 2)      // channels
	binary.LittleEndian.PutUint32(data[4:8], 44100)  // sample rate
	return riffChunk{id: "fmt ", data: data}
}

func TestWAVInfoMirrorRead(t *testing.T) {
	// Empty ID3, INFO holds INAM: the title must materialize from the mirror
	path := buildWAV(t,
		fmtChunk(),
		riffChunk{id: "data", data: []byte{0, 0, 0, 0}},
		riffChunk{id: "LIST", data: infoList([2]string{"INAM", "Track"})},
	)

	w, err := loadWAV(path, false)
	if err != nil {
		t.Fatal(err)
	}
	got := w.Get(Title)
	if len(got) != 1 || got[0] != "Track" {
		t.Errorf("Get(Title) = %v, want [Track]", got)
	}
}

func TestWAVInfoMirrorWrite(t *testing.T) {
	path := buildWAV(t,
		fmtChunk(),
		riffChunk{id: "data", data: []byte{0, 0, 0, 0}},
		riffChunk{id: "LIST", data: infoList([2]string{"INAM", "Track"})},
	)

	w, err := loadWAV(path, false)
	if err != nil {
		t.Fatal(err)
	}
	w.Set(Title, []string{"Other"}, ", ")
	if err := w.Save(); err != nil {
		t.Fatal(err)
	}

	// Both TIT2 and INAM must now read "Other"
	reloaded, err := loadWAV(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := reloaded.Get(Title); len(got) != 1 || got[0] != "Other" {
		t.Errorf("ID3 title after rewrite = %v, want [Other]", got)
	}
	if reloaded.info["INAM"] != "Other" {
		t.Errorf("INFO INAM after rewrite = %q, want Other", reloaded.info["INAM"])
	}
}

func TestWAVPreservesChunks(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	path := buildWAV(t,
		fmtChunk(),
		riffChunk{id: "data", data: payload},
		riffChunk{id: "cue ", data: []byte{9, 9}},
	)

	w, err := loadWAV(path, false)
	if err != nil {
		t.Fatal(err)
	}
	w.Set(Artist, []string{"Someone"}, ", ")
	if err := w.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := loadWAV(path, false)
	if err != nil {
		t.Fatal(err)
	}
	found := map[string][]byte{}
	for _, c := range reloaded.chunks {
		found[c.id] = c.data
	}
	if !bytes.Equal(found["data"], payload) {
		t.Error("data chunk not preserved")
	}
	if !bytes.Equal(found["cue "], []byte{9, 9}) {
		t.Error("cue chunk not preserved")
	}
	// IART mirror projected on write
	if reloaded.info["IART"] != "Someone" {
		t.Errorf("IART = %q, want Someone", reloaded.info["IART"])
	}
}

func TestWAVRoundTripFields(t *testing.T) {
	path := buildWAV(t, fmtChunk(), riffChunk{id: "data", data: []byte{0, 0}})

	w, err := loadWAV(path, false)
	if err != nil {
		t.Fatal(err)
	}
	w.Set(Title, []string{"Strobe"}, ", ")
	w.Set(Artist, []string{"deadmau5"}, ", ")
	w.Set(Genre, []string{"Progressive House", "Electro"}, "; ")
	w.SetDate(Date{Year: 2009, Month: 9, Day: 22})
	if err := w.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := loadWAV(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := reloaded.Get(Genre); len(got) != 1 || got[0] != "Progressive House; Electro" {
		t.Errorf("Genre = %v", got)
	}
	date, ok := reloaded.Date()
	if !ok || date.Year != 2009 || date.Month != 9 || date.Day != 22 {
		t.Errorf("Date = %+v, ok=%t", date, ok)
	}
}
