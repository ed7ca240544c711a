package tag

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/bogem/id3v2/v2"
)

// id3ToInfo maps mirrored ID3 frames to RIFF INFO chunk IDs
var id3ToInfo = map[string]string{
	"TIT2": "INAM",
	"TALB": "IPRD",
	"TPE1": "IART",
	"COMM": "ICMT",
	"TCON": "IGNR",
	"TSRC": "ISRC",
}

type riffChunk struct {
	id   string
	data []byte
}

// wavTag is the WAV container: an ID3 tag stored in a RIFF `id3 ` chunk,
// with a fixed subset of frames mirrored into the INFO LIST chunk for
// legacy readers.
type wavTag struct {
	*id3Tag
	path string
	// chunks of the RIFF body except `id3 ` and the INFO LIST
	chunks []riffChunk
	// INFO LIST entries by chunk id
	info map[string]string
	// order of INFO entries as read, for stable write-out
	infoOrder []string
}

func loadWAV(path string, readImages bool) (*wavTag, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a wav file: %s", path)
	}

	w := &wavTag{path: path, info: map[string]string{}}
	var id3Chunk []byte

	offset := 12
	for offset+8 <= len(raw) {
		id := string(raw[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(raw[offset+4 : offset+8]))
		start := offset + 8
		if start+size > len(raw) {
			break
		}
		body := raw[start : start+size]

		switch {
		case id == "id3 " || id == "ID3 ":
			id3Chunk = body
		case id == "LIST" && len(body) >= 4 && string(body[0:4]) == "INFO":
			w.parseInfoList(body[4:])
		default:
			w.chunks = append(w.chunks, riffChunk{id: id, data: body})
		}

		offset = start + size
		if size%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}

	w.id3Tag = newID3FromChunk(path, id3Chunk)

	// Materialize missing ID3 frames from their INFO mirrors
	for frameID, infoID := range id3ToInfo {
		text, ok := w.info[infoID]
		if !ok || text == "" {
			continue
		}
		if frameID == "COMM" {
			if len(w.id3Tag.tag.GetFrames("COMM")) == 0 {
				w.id3Tag.tag.AddCommentFrame(id3v2.CommentFrame{
					Encoding: id3v2.EncodingUTF8,
					Language: "eng",
					Text:     text,
				})
			}
			continue
		}
		if w.id3Tag.tag.GetTextFrame(frameID).Text == "" {
			w.id3Tag.tag.AddTextFrame(frameID, id3v2.EncodingUTF8, text)
		}
	}

	return w, nil
}

func (w *wavTag) parseInfoList(body []byte) {
	offset := 0
	for offset+8 <= len(body) {
		id := string(body[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(body[offset+4 : offset+8]))
		start := offset + 8
		if start+size > len(body) {
			return
		}
		text := strings.ReplaceAll(string(body[start:start+size]), "\x00", "")
		if _, seen := w.info[id]; !seen {
			w.infoOrder = append(w.infoOrder, id)
		}
		w.info[id] = text
		offset = start + size
		if size%2 == 1 {
			offset++
		}
	}
}

func (w *wavTag) Save() error {
	id3Data, err := w.id3Tag.serialize()
	if err != nil {
		return err
	}

	// Project the mirrored frames into INFO
	for frameID, infoID := range id3ToInfo {
		var text string
		if frameID == "COMM" {
			for _, frame := range w.id3Tag.tag.GetFrames("COMM") {
				if cf, ok := frame.(id3v2.CommentFrame); ok {
					text = cf.Text
					break
				}
			}
		} else {
			text = w.id3Tag.tag.GetTextFrame(frameID).Text
		}
		if text == "" {
			continue
		}
		if _, seen := w.info[infoID]; !seen {
			w.infoOrder = append(w.infoOrder, infoID)
		}
		w.info[infoID] = text
	}

	// RIFF body: form type, preserved chunks, new id3 chunk, INFO LIST
	var body bytes.Buffer
	body.WriteString("WAVE")
	for _, c := range w.chunks {
		writeRIFFChunk(&body, c.id, c.data)
	}
	writeRIFFChunk(&body, "id3 ", id3Data)
	if len(w.info) > 0 {
		var list bytes.Buffer
		list.WriteString("INFO")
		for _, id := range w.infoOrder {
			text, ok := w.info[id]
			if !ok || text == "" {
				continue
			}
			writeRIFFChunk(&list, id, append([]byte(text), 0)) // null-terminated
		}
		writeRIFFChunk(&body, "LIST", list.Bytes())
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return os.WriteFile(w.path, out.Bytes(), 0o644)
}

func writeRIFFChunk(buf *bytes.Buffer, id string, data []byte) {
	buf.WriteString(id)
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	if len(data)%2 == 1 {
		buf.WriteByte(0)
	}
}
