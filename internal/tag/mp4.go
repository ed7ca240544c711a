package tag

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MP4 well-known data atom types
const (
	mp4TypeImplicit = 0
	mp4TypeUTF8     = 1
	mp4TypeJPEG     = 13
	mp4TypePNG      = 14
	mp4TypeInt      = 21
)

const itunesFreeformMean = "com.apple.iTunes"

// mp4Atom addresses an ilst entry: a plain atom name, or a freeform
// "----" atom keyed by its mean/name pair.
type mp4Atom struct {
	name     string
	freeform string // non-empty means a ---- atom with this name
}

var mp4Field = map[Field]mp4Atom{
	Title:         {name: "\xa9nam"},
	Artist:        {name: "\xa9ART"},
	AlbumArtist:   {name: "aART"},
	Album:         {name: "\xa9alb"},
	Genre:         {name: "\xa9gen"},
	Style:         {freeform: "STYLE"},
	BPM:           {name: "tmpo"},
	Key:           {freeform: "initialkey"},
	Label:         {freeform: "LABEL"},
	ISRC:          {freeform: "ISRC"},
	CatalogNumber: {freeform: "CATALOGNUMBER"},
	TrackNumber:   {name: "trkn"},
	TrackTotal:    {name: "trkn"},
	DiscNumber:    {name: "disk"},
	Remixer:       {freeform: "REMIXER"},
	Version:       {freeform: "VERSION"},
	Mood:          {freeform: "MOOD"},
}

// mp4Item is one ilst entry
type mp4Item struct {
	name     string
	mean     string // freeform atoms only
	freeform string
	dataType uint32
	values   [][]byte // one per data child atom
}

// mp4Tag reads and rewrites the moov.udta.meta.ilst atom of an MP4 file.
// On save, the whole moov box is rebuilt and stco/co64 chunk offsets are
// shifted when moov precedes mdat.
type mp4Tag struct {
	path  string
	raw   []byte
	items []*mp4Item
}

func loadMP4(path string, _ bool) (*mp4Tag, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t := &mp4Tag{path: path, raw: raw}

	moovStart, moovSize, err := findBox(raw, 0, len(raw), "moov")
	if err != nil {
		return nil, fmt.Errorf("no moov box: %s", path)
	}
	ilst := findPath(raw, moovStart+8, moovStart+moovSize, "udta", "meta", "ilst")
	if ilst != nil {
		t.parseIlst(raw[ilst[0]+8 : ilst[0]+ilst[1]])
	}
	return t, nil
}

// findBox scans [start,end) for a top-level box, returning its offset and size
func findBox(raw []byte, start, end int, name string) (int, int, error) {
	offset := start
	for offset+8 <= end {
		size := int(binary.BigEndian.Uint32(raw[offset : offset+4]))
		boxName := string(raw[offset+4 : offset+8])
		if size == 0 {
			size = end - offset
		}
		if size == 1 {
			if offset+16 > end {
				break
			}
			size = int(binary.BigEndian.Uint64(raw[offset+8 : offset+16]))
		}
		if size < 8 || offset+size > end {
			break
		}
		if boxName == name {
			return offset, size, nil
		}
		offset += size
	}
	return 0, 0, fmt.Errorf("box %q not found", name)
}

// findPath descends nested boxes; "meta" carries a 4-byte version/flags
// prefix before its children. Returns [offset, size] of the target or nil.
func findPath(raw []byte, start, end int, path ...string) []int {
	if len(path) == 0 {
		return nil
	}
	offset, size, err := findBox(raw, start, end, path[0])
	if err != nil {
		return nil
	}
	if len(path) == 1 {
		return []int{offset, size}
	}
	childStart := offset + 8
	if path[0] == "meta" {
		childStart += 4
	}
	return findPath(raw, childStart, offset+size, path[1:]...)
}

func (t *mp4Tag) parseIlst(body []byte) {
	offset := 0
	for offset+8 <= len(body) {
		size := int(binary.BigEndian.Uint32(body[offset : offset+4]))
		if size < 8 || offset+size > len(body) {
			return
		}
		name := string(body[offset+4 : offset+8])
		item := &mp4Item{name: name}
		parseEntryChildren(item, body[offset+8:offset+size])
		if len(item.values) > 0 {
			t.items = append(t.items, item)
		}
		offset += size
	}
}

func parseEntryChildren(item *mp4Item, body []byte) {
	offset := 0
	for offset+8 <= len(body) {
		size := int(binary.BigEndian.Uint32(body[offset : offset+4]))
		if size < 8 || offset+size > len(body) {
			return
		}
		kind := string(body[offset+4 : offset+8])
		payload := body[offset+8 : offset+size]
		switch kind {
		case "mean":
			if len(payload) > 4 {
				item.mean = string(payload[4:])
			}
		case "name":
			if len(payload) > 4 {
				item.freeform = string(payload[4:])
			}
		case "data":
			if len(payload) >= 8 {
				item.dataType = binary.BigEndian.Uint32(payload[0:4]) & 0x00FFFFFF
				item.values = append(item.values, append([]byte(nil), payload[8:]...))
			}
		}
		offset += size
	}
}

func (t *mp4Tag) find(atom mp4Atom) *mp4Item {
	for _, item := range t.items {
		if atom.freeform != "" {
			if item.name == "----" && item.mean == itunesFreeformMean &&
				strings.EqualFold(item.freeform, atom.freeform) {
				return item
			}
		} else if item.name == atom.name {
			return item
		}
	}
	return nil
}

func (t *mp4Tag) remove(atom mp4Atom) {
	kept := t.items[:0]
	for _, item := range t.items {
		match := false
		if atom.freeform != "" {
			match = item.name == "----" && item.mean == itunesFreeformMean &&
				strings.EqualFold(item.freeform, atom.freeform)
		} else {
			match = item.name == atom.name
		}
		if !match {
			kept = append(kept, item)
		}
	}
	t.items = kept
}

func (t *mp4Tag) Get(field Field) []string {
	atom, ok := mp4Field[field]
	if !ok {
		return nil
	}
	item := t.find(atom)
	if item == nil {
		return nil
	}
	switch atom.name {
	case "trkn", "disk":
		n, total := parsePairAtom(item.values[0])
		if field == TrackTotal {
			if total == 0 {
				return nil
			}
			return []string{strconv.Itoa(total)}
		}
		if n == 0 {
			return nil
		}
		return []string{strconv.Itoa(n)}
	case "tmpo":
		if len(item.values[0]) >= 2 {
			return []string{strconv.Itoa(int(binary.BigEndian.Uint16(item.values[0][:2])))}
		}
		return nil
	}
	var out []string
	for _, v := range item.values {
		out = append(out, string(v))
	}
	return out
}

func (t *mp4Tag) Set(field Field, values []string, separator string) {
	atom, ok := mp4Field[field]
	if !ok {
		return
	}
	values = dropEmpty(values)

	switch atom.name {
	case "trkn", "disk":
		t.setPair(field, atom, values)
		return
	case "tmpo":
		t.remove(atom)
		if len(values) == 0 {
			return
		}
		bpm, err := strconv.Atoi(values[0])
		if err != nil || bpm <= 0 {
			return
		}
		data := make([]byte, 2)
		binary.BigEndian.PutUint16(data, uint16(bpm))
		t.items = append(t.items, &mp4Item{name: "tmpo", dataType: mp4TypeInt, values: [][]byte{data}})
		return
	}

	t.remove(atom)
	if len(values) == 0 {
		return
	}
	item := &mp4Item{name: atom.name, dataType: mp4TypeUTF8}
	if atom.freeform != "" {
		item.name = "----"
		item.mean = itunesFreeformMean
		item.freeform = atom.freeform
	}
	// ilst data atoms repeat natively; no separator join needed
	for _, v := range values {
		item.values = append(item.values, []byte(v))
	}
	t.items = append(t.items, item)
}

// setPair merges number and total into the shared trkn/disk atom
func (t *mp4Tag) setPair(field Field, atom mp4Atom, values []string) {
	number, total := 0, 0
	if existing := t.find(atom); existing != nil {
		number, total = parsePairAtom(existing.values[0])
	}
	v := 0
	if len(values) > 0 {
		v, _ = strconv.Atoi(values[0])
	}
	if field == TrackTotal {
		total = v
	} else {
		number = v
	}
	t.remove(atom)
	if number == 0 && total == 0 {
		return
	}
	size := 8
	if atom.name == "disk" {
		size = 6
	}
	data := make([]byte, size)
	binary.BigEndian.PutUint16(data[2:4], uint16(number))
	binary.BigEndian.PutUint16(data[4:6], uint16(total))
	t.items = append(t.items, &mp4Item{name: atom.name, dataType: mp4TypeImplicit, values: [][]byte{data}})
}

func parsePairAtom(data []byte) (int, int) {
	if len(data) < 6 {
		return 0, 0
	}
	return int(binary.BigEndian.Uint16(data[2:4])), int(binary.BigEndian.Uint16(data[4:6]))
}

func (t *mp4Tag) GetRaw(id string) []string {
	atom := rawMP4Atom(id)
	item := t.find(atom)
	if item == nil {
		return nil
	}
	var out []string
	for _, v := range item.values {
		out = append(out, string(v))
	}
	return out
}

func (t *mp4Tag) SetRaw(id string, values []string) {
	atom := rawMP4Atom(id)
	t.remove(atom)
	values = dropEmpty(values)
	if len(values) == 0 {
		return
	}
	item := &mp4Item{name: atom.name, dataType: mp4TypeUTF8}
	if atom.freeform != "" {
		item.name = "----"
		item.mean = itunesFreeformMean
		item.freeform = atom.freeform
	}
	for _, v := range values {
		item.values = append(item.values, []byte(v))
	}
	t.items = append(t.items, item)
}

// rawMP4Atom resolves a raw id: "com.apple.iTunes:NAME" addresses a
// freeform atom, anything else a plain 4-char atom.
func rawMP4Atom(id string) mp4Atom {
	if name, found := strings.CutPrefix(id, itunesFreeformMean+":"); found {
		return mp4Atom{freeform: name}
	}
	return mp4Atom{name: id}
}

func (t *mp4Tag) Art() []Picture {
	item := t.find(mp4Atom{name: "covr"})
	if item == nil {
		return nil
	}
	var out []Picture
	for _, v := range item.values {
		mime := "image/jpeg"
		if item.dataType == mp4TypePNG {
			mime = "image/png"
		}
		out = append(out, Picture{Kind: PictureFrontCover, MIMEType: mime, Data: v})
	}
	return out
}

func (t *mp4Tag) SetArt(pictures []Picture) {
	t.remove(mp4Atom{name: "covr"})
	if len(pictures) == 0 {
		return
	}
	dataType := uint32(mp4TypeJPEG)
	if pictures[0].MIMEType == "image/png" {
		dataType = mp4TypePNG
	}
	item := &mp4Item{name: "covr", dataType: dataType}
	for _, p := range pictures {
		item.values = append(item.values, p.Data)
	}
	t.items = append(t.items, item)
}

func (t *mp4Tag) Date() (Date, bool) {
	item := t.find(mp4Atom{name: "\xa9day"})
	if item == nil || len(item.values) == 0 {
		return Date{}, false
	}
	return parseDate(string(item.values[0]))
}

func (t *mp4Tag) SetDate(date Date) {
	t.remove(mp4Atom{name: "\xa9day"})
	if date.Year == 0 {
		return
	}
	text := fmt.Sprintf("%04d", date.Year)
	if date.HasDay() {
		text = fmt.Sprintf("%04d-%02d-%02d", date.Year, date.Month, date.Day)
	}
	t.items = append(t.items, &mp4Item{name: "\xa9day", dataType: mp4TypeUTF8, values: [][]byte{[]byte(text)}})
}

func (t *mp4Tag) Rating() int {
	vals := t.GetRaw(itunesFreeformMean + ":RATING")
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

func (t *mp4Tag) SetRating(stars int) {
	if stars < 1 {
		t.SetRaw(itunesFreeformMean+":RATING", nil)
		return
	}
	if stars > 5 {
		stars = 5
	}
	t.SetRaw(itunesFreeformMean+":RATING", []string{strconv.Itoa(stars)})
}

func (t *mp4Tag) Save() error {
	moovStart, moovSize, err := findBox(t.raw, 0, len(t.raw), "moov")
	if err != nil {
		return fmt.Errorf("no moov box: %s", t.path)
	}

	newMoov, err := rebuildMoov(t.raw[moovStart:moovStart+moovSize], t.serializeIlst())
	if err != nil {
		return err
	}

	delta := len(newMoov) - moovSize
	if delta != 0 {
		// Chunk offsets are absolute; shift them when the media data
		// sits after the grown/shrunk moov box
		mdatStart, _, mdatErr := findBox(t.raw, 0, len(t.raw), "mdat")
		if mdatErr == nil && moovStart < mdatStart {
			patchChunkOffsets(newMoov, int64(delta))
		}
	}

	var out bytes.Buffer
	out.Write(t.raw[:moovStart])
	out.Write(newMoov)
	out.Write(t.raw[moovStart+moovSize:])
	return os.WriteFile(t.path, out.Bytes(), 0o644)
}

func (t *mp4Tag) serializeIlst() []byte {
	var body bytes.Buffer
	for _, item := range t.items {
		var entry bytes.Buffer
		if item.name == "----" {
			writeMP4Box(&entry, "mean", append(make([]byte, 4), []byte(item.mean)...))
			writeMP4Box(&entry, "name", append(make([]byte, 4), []byte(item.freeform)...))
		}
		for _, v := range item.values {
			payload := make([]byte, 8+len(v))
			binary.BigEndian.PutUint32(payload[0:4], item.dataType)
			copy(payload[8:], v)
			writeMP4Box(&entry, "data", payload)
		}
		writeMP4Box(&body, item.name, entry.Bytes())
	}
	var ilst bytes.Buffer
	writeMP4Box(&ilst, "ilst", body.Bytes())
	return ilst.Bytes()
}

func writeMP4Box(buf *bytes.Buffer, name string, payload []byte) {
	binary.Write(buf, binary.BigEndian, uint32(8+len(payload)))
	buf.WriteString(name)
	buf.Write(payload)
}

// rebuildMoov replaces (or creates) udta.meta.ilst inside a moov box,
// recomputing every enclosing box size.
func rebuildMoov(moov []byte, ilst []byte) ([]byte, error) {
	children, err := splitBoxes(moov[8:])
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	udtaDone := false
	for _, child := range children {
		if string(child[4:8]) == "udta" {
			rebuilt, err := rebuildUdta(child, ilst)
			if err != nil {
				return nil, err
			}
			body.Write(rebuilt)
			udtaDone = true
			continue
		}
		body.Write(child)
	}
	if !udtaDone {
		fresh, err := rebuildUdta(makeBox("udta", nil), ilst)
		if err != nil {
			return nil, err
		}
		body.Write(fresh)
	}
	return makeBox("moov", body.Bytes()), nil
}

func rebuildUdta(udta []byte, ilst []byte) ([]byte, error) {
	children, err := splitBoxes(udta[8:])
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	metaDone := false
	for _, child := range children {
		if string(child[4:8]) == "meta" {
			body.Write(rebuildMeta(child, ilst))
			metaDone = true
			continue
		}
		body.Write(child)
	}
	if !metaDone {
		body.Write(rebuildMeta(nil, ilst))
	}
	return makeBox("udta", body.Bytes()), nil
}

// rebuildMeta keeps the meta version/flags and non-ilst children (hdlr)
func rebuildMeta(meta []byte, ilst []byte) []byte {
	var body bytes.Buffer
	if meta == nil {
		body.Write(make([]byte, 4)) // version + flags
		// minimal mdir handler so readers accept the meta box
		hdlr := make([]byte, 24)
		copy(hdlr[8:12], "mdir")
		copy(hdlr[12:16], "appl")
		body.Write(makeBox("hdlr", hdlr))
	} else {
		body.Write(meta[8:12])
		children, err := splitBoxes(meta[12:])
		if err == nil {
			for _, child := range children {
				if string(child[4:8]) != "ilst" {
					body.Write(child)
				}
			}
		}
	}
	body.Write(ilst)
	return makeBox("meta", body.Bytes())
}

func makeBox(name string, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(payload)))
	copy(out[4:8], name)
	copy(out[8:], payload)
	return out
}

func splitBoxes(body []byte) ([][]byte, error) {
	var out [][]byte
	offset := 0
	for offset+8 <= len(body) {
		size := int(binary.BigEndian.Uint32(body[offset : offset+4]))
		if size < 8 || offset+size > len(body) {
			return nil, fmt.Errorf("malformed box at offset %d", offset)
		}
		out = append(out, body[offset:offset+size])
		offset += size
	}
	return out, nil
}

// patchChunkOffsets shifts every stco/co64 entry inside the moov box
func patchChunkOffsets(moov []byte, delta int64) {
	patchOffsetsIn(moov, 8, len(moov), delta)
}

func patchOffsetsIn(raw []byte, start, end int, delta int64) {
	offset := start
	for offset+8 <= end {
		size := int(binary.BigEndian.Uint32(raw[offset : offset+4]))
		if size < 8 || offset+size > end {
			return
		}
		name := string(raw[offset+4 : offset+8])
		switch name {
		case "stco":
			body := raw[offset+8 : offset+size]
			if len(body) >= 8 {
				count := int(binary.BigEndian.Uint32(body[4:8]))
				for i := 0; i < count && 8+(i+1)*4 <= len(body); i++ {
					pos := 8 + i*4
					v := binary.BigEndian.Uint32(body[pos : pos+4])
					binary.BigEndian.PutUint32(body[pos:pos+4], uint32(int64(v)+delta))
				}
			}
		case "co64":
			body := raw[offset+8 : offset+size]
			if len(body) >= 8 {
				count := int(binary.BigEndian.Uint32(body[4:8]))
				for i := 0; i < count && 8+(i+1)*8 <= len(body); i++ {
					pos := 8 + i*8
					v := binary.BigEndian.Uint64(body[pos : pos+8])
					binary.BigEndian.PutUint64(body[pos:pos+8], uint64(int64(v)+delta))
				}
			}
		case "trak", "mdia", "minf", "stbl", "moov":
			patchOffsetsIn(raw, offset+8, offset+size, delta)
		}
		offset += size
	}
}
