package custom

import (
	"bytes"
	"testing"

	"github.com/franz/onetagger/internal/tagger"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	request := &pluginFrame{
		Kind: frameMatchTrack,
		Info: &tagger.AudioFileInfo{Path: "/m/a.mp3", Title: "Strobe", Artist: "deadmau5"},
	}
	if err := writeFrame(&buf, request); err != nil {
		t.Fatal(err)
	}

	got, err := readFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != frameMatchTrack {
		t.Errorf("kind = %q", got.Kind)
	}
	if got.Info == nil || got.Info.Title != "Strobe" {
		t.Errorf("info = %+v", got.Info)
	}
}

func TestFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := readFrame(&buf); err == nil {
		t.Error("expected oversized frame rejection")
	}
}

func TestFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 10, 'x'})
	if _, err := readFrame(&buf); err == nil {
		t.Error("expected truncated payload error")
	}
}

func TestMultipleFramesSequential(t *testing.T) {
	var buf bytes.Buffer
	for _, kind := range []string{frameInit, frameMatchTrack, frameExit} {
		if err := writeFrame(&buf, &pluginFrame{Kind: kind}); err != nil {
			t.Fatal(err)
		}
	}
	for _, expected := range []string{frameInit, frameMatchTrack, frameExit} {
		frame, err := readFrame(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if frame.Kind != expected {
			t.Errorf("kind = %q, want %q", frame.Kind, expected)
		}
	}
}
