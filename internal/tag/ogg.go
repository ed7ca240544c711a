package tag

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
)

// oggPage is one parsed Ogg page. See https://www.xiph.org/ogg/doc/framing.html
type oggPage struct {
	headerType byte
	granule    uint64
	serial     uint32
	sequence   uint32
	segments   []byte
	payload    []byte
}

// oggTag rewrites the Vorbis/Opus comment header packet in place. The
// identification header page is passed through untouched; the header
// pages carrying the comment packet are re-paged, and every following
// page gets its sequence number and checksum recomputed.
type oggTag struct {
	path     string
	comments *vorbisComments
	// codec magic prefixing the comment packet ("\x03vorbis" or "OpusTags")
	magic []byte
	// vorbis comment packets end with a framing bit, opus ones don't
	framingBit bool
	identPage  oggPage
	// packets following the comment packet on the header pages (setup header)
	trailingPackets [][]byte
	// remaining audio pages, in order
	audioPages []oggPage
}

var (
	vorbisCommentMagic = []byte("\x03vorbis")
	opusCommentMagic   = []byte("OpusTags")
)

func loadOGG(path string) (*oggTag, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	pages, err := parseOggPages(raw)
	if err != nil {
		return nil, err
	}
	if len(pages) < 2 {
		return nil, fmt.Errorf("ogg stream too short: %s", path)
	}

	t := &oggTag{path: path, identPage: pages[0]}

	// Collect header packets until a page that starts a fresh (audio) packet
	// after the comment+setup packets have been seen
	var headerData []byte
	idx := 1
	for idx < len(pages) {
		p := pages[idx]
		if idx > 1 && p.headerType&0x1 == 0 && headerPacketsComplete(p) {
			break
		}
		headerData = append(headerData, p.payload...)
		idx++
		// Header pages end the packet on a lacing value < 255; once the
		// page doesn't end with a continued packet, the next page starts
		// the audio stream.
		if len(p.segments) > 0 && p.segments[len(p.segments)-1] < 255 {
			break
		}
	}
	t.audioPages = pages[idx:]

	packets := splitOggPackets(headerData, collectSegments(pages[1:idx]))
	if len(packets) == 0 {
		return nil, fmt.Errorf("no comment header packet: %s", path)
	}

	comment := packets[0]
	t.trailingPackets = packets[1:]

	switch {
	case bytes.HasPrefix(comment, vorbisCommentMagic):
		t.magic = vorbisCommentMagic
		t.framingBit = true
		comment = comment[len(vorbisCommentMagic):]
	case bytes.HasPrefix(comment, opusCommentMagic):
		t.magic = opusCommentMagic
		comment = comment[len(opusCommentMagic):]
	default:
		return nil, fmt.Errorf("unrecognized comment header: %s", path)
	}

	t.comments, err = parseVorbisCommentPacket(comment)
	if err != nil {
		return nil, fmt.Errorf("parse comments: %w", err)
	}
	return t, nil
}

func headerPacketsComplete(p oggPage) bool {
	// Audio packets never start with a header packet type byte
	return len(p.payload) == 0 || (p.payload[0] != 1 && p.payload[0] != 3 && p.payload[0] != 5)
}

func parseOggPages(raw []byte) ([]oggPage, error) {
	var pages []oggPage
	offset := 0
	for offset+27 <= len(raw) {
		if string(raw[offset:offset+4]) != "OggS" {
			return nil, fmt.Errorf("bad page capture at offset %d", offset)
		}
		header := raw[offset : offset+27]
		nSegments := int(header[26])
		if offset+27+nSegments > len(raw) {
			return nil, fmt.Errorf("truncated segment table")
		}
		segments := raw[offset+27 : offset+27+nSegments]
		size := 0
		for _, s := range segments {
			size += int(s)
		}
		start := offset + 27 + nSegments
		if start+size > len(raw) {
			return nil, fmt.Errorf("truncated page payload")
		}
		pages = append(pages, oggPage{
			headerType: header[5],
			granule:    binary.LittleEndian.Uint64(header[6:14]),
			serial:     binary.LittleEndian.Uint32(header[14:18]),
			sequence:   binary.LittleEndian.Uint32(header[18:22]),
			segments:   append([]byte(nil), segments...),
			payload:    append([]byte(nil), raw[start:start+size]...),
		})
		offset = start + size
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no ogg pages")
	}
	return pages, nil
}

func collectSegments(pages []oggPage) []byte {
	var out []byte
	for _, p := range pages {
		out = append(out, p.segments...)
	}
	return out
}

// splitOggPackets cuts concatenated page payloads into packets using the
// lacing values: a packet ends on any value below 255.
func splitOggPackets(data, segments []byte) [][]byte {
	var packets [][]byte
	var current []byte
	offset := 0
	for _, lace := range segments {
		n := int(lace)
		if offset+n > len(data) {
			break
		}
		current = append(current, data[offset:offset+n]...)
		offset += n
		if n < 255 {
			packets = append(packets, current)
			current = nil
		}
	}
	if len(current) > 0 {
		packets = append(packets, current)
	}
	return packets
}

func parseVorbisCommentPacket(data []byte) (*vorbisComments, error) {
	rd := bytes.NewReader(data)
	var vendorLen uint32
	if err := binary.Read(rd, binary.LittleEndian, &vendorLen); err != nil {
		return nil, err
	}
	vendor := make([]byte, vendorLen)
	if _, err := rd.Read(vendor); err != nil {
		return nil, err
	}
	c := newVorbisComments(string(vendor))

	var count uint32
	if err := binary.Read(rd, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		var entryLen uint32
		if err := binary.Read(rd, binary.LittleEndian, &entryLen); err != nil {
			return nil, err
		}
		entry := make([]byte, entryLen)
		if _, err := rd.Read(entry); err != nil {
			return nil, err
		}
		key, value, found := strings.Cut(string(entry), "=")
		if found {
			c.add(key, value)
		}
	}
	return c, nil
}

func (t *oggTag) serializeCommentPacket() []byte {
	var buf bytes.Buffer
	buf.Write(t.magic)
	binary.Write(&buf, binary.LittleEndian, uint32(len(t.comments.vendor)))
	buf.WriteString(t.comments.vendor)

	var entries []string
	for _, key := range t.comments.keys {
		for _, value := range t.comments.values[key] {
			entries = append(entries, key+"="+value)
		}
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, uint32(len(e)))
		buf.WriteString(e)
	}
	if t.framingBit {
		buf.WriteByte(1)
	}
	return buf.Bytes()
}

func (t *oggTag) Get(field Field) []string                   { return t.comments.getField(field) }
func (t *oggTag) Set(field Field, values []string, _ string) { t.comments.setField(field, values) }
func (t *oggTag) GetRaw(id string) []string                  { return t.comments.get(id) }
func (t *oggTag) SetRaw(id string, values []string)          { t.comments.set(id, dropEmpty(values)) }
func (t *oggTag) Date() (Date, bool)                         { return t.comments.date() }
func (t *oggTag) SetDate(date Date)                          { t.comments.setDate(date) }
func (t *oggTag) Rating() int                                { return t.comments.rating() }
func (t *oggTag) SetRating(stars int)                        { t.comments.setRating(stars) }

// Art is stored as a base64 METADATA_BLOCK_PICTURE comment by convention;
// cover replacement for Ogg is delegated to that raw comment.
func (t *oggTag) Art() []Picture            { return nil }
func (t *oggTag) SetArt(pictures []Picture) {}

func (t *oggTag) Save() error {
	packets := append([][]byte{t.serializeCommentPacket()}, t.trailingPackets...)

	var out bytes.Buffer
	writeOggPage(&out, t.identPage, t.identPage.sequence)

	seq := t.identPage.sequence + 1
	for _, page := range packetsToPages(packets, t.identPage.serial) {
		writeOggPage(&out, page, seq)
		seq++
	}
	for _, page := range t.audioPages {
		writeOggPage(&out, page, seq)
		seq++
	}
	return os.WriteFile(t.path, out.Bytes(), 0o644)
}

// packetsToPages lays header packets out on fresh pages (granule 0)
func packetsToPages(packets [][]byte, serial uint32) []oggPage {
	var segments []byte
	var payload []byte
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			segments = append(segments, 255)
			n -= 255
		}
		segments = append(segments, byte(n))
		payload = append(payload, p...)
	}

	var pages []oggPage
	continued := false
	for len(segments) > 0 {
		count := len(segments)
		if count > 255 {
			count = 255
		}
		size := 0
		for _, s := range segments[:count] {
			size += int(s)
		}
		var headerType byte
		if continued {
			headerType |= 0x1
		}
		pages = append(pages, oggPage{
			headerType: headerType,
			serial:     serial,
			segments:   append([]byte(nil), segments[:count]...),
			payload:    append([]byte(nil), payload[:size]...),
		})
		continued = segments[count-1] == 255
		segments = segments[count:]
		payload = payload[size:]
	}
	return pages
}

func writeOggPage(buf *bytes.Buffer, page oggPage, sequence uint32) {
	header := make([]byte, 27)
	copy(header, "OggS")
	header[4] = 0 // stream structure version
	header[5] = page.headerType
	binary.LittleEndian.PutUint64(header[6:14], page.granule)
	binary.LittleEndian.PutUint32(header[14:18], page.serial)
	binary.LittleEndian.PutUint32(header[18:22], sequence)
	// checksum at 22:26 computed over the page with the field zeroed
	header[26] = byte(len(page.segments))

	full := make([]byte, 0, len(header)+len(page.segments)+len(page.payload))
	full = append(full, header...)
	full = append(full, page.segments...)
	full = append(full, page.payload...)

	crc := oggChecksum(full)
	binary.LittleEndian.PutUint32(full[22:26], crc)
	buf.Write(full)
}

// oggCRCTable implements the Ogg page checksum: CRC-32 with polynomial
// 0x04c11db7, zero initial value, no final inversion.
var oggCRCTable = func() [256]uint32 {
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()

func oggChecksum(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}
