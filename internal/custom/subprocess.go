// Package custom loads externally provided matchers: native shared
// objects, script plugins and an out-of-process matcher speaking
// length-prefixed JSON frames.
package custom

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

// Frame kinds of the subprocess protocol. Responses mirror the request
// kind; anything else is a protocol error.
const (
	frameInit        = "Init"
	frameMatchTrack  = "MatchTrack"
	frameExtendTrack = "ExtendTrack"
	framePipInstall  = "PipInstall"
	frameExit        = "Exit"
)

// pluginFrame is one request or response on the pipe
type pluginFrame struct {
	Kind    string                `json:"kind"`
	Info    *tagger.AudioFileInfo `json:"info,omitempty"`
	Config  *tagger.TaggerConfig  `json:"config,omitempty"`
	Track   *tagger.Track         `json:"track,omitempty"`
	Matches []tagger.TrackMatch   `json:"matches,omitempty"`
	// pip requirements for script plugins
	Requirements []string `json:"requirements,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// SubprocessSource runs a matcher in a child process. Exactly one
// request is in flight at a time; on any pipe error the child is
// considered dead and respawned on next use.
type SubprocessSource struct {
	mu      sync.Mutex
	command string
	args    []string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// NewSubprocessSource prepares (but does not yet start) the child
func NewSubprocessSource(command string, args ...string) *SubprocessSource {
	return &SubprocessSource{command: command, args: args}
}

func (s *SubprocessSource) ensureStarted() error {
	if s.cmd != nil {
		return nil
	}
	cmd := exec.Command(s.command, s.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	// stderr is inherited so plugin logs land on ours
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn plugin %s: %w", s.command, err)
	}
	s.cmd = cmd
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	util.DebugLog("Plugin subprocess started: %s (pid %d)", s.command, cmd.Process.Pid)

	if _, err := s.roundTripLocked(&pluginFrame{Kind: frameInit}); err != nil {
		s.killLocked()
		return fmt.Errorf("plugin init: %w", err)
	}
	return nil
}

func (s *SubprocessSource) killLocked() {
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	s.stdin = nil
	s.stdout = nil
}

// roundTrip sends one frame and reads the matching response. Serialized:
// the protocol allows a single request in flight.
func (s *SubprocessSource) roundTrip(request *pluginFrame) (*pluginFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureStarted(); err != nil {
		return nil, err
	}
	response, err := s.roundTripLocked(request)
	if err != nil {
		// Treat the child as dead; next use respawns it
		s.killLocked()
		return nil, err
	}
	return response, nil
}

func (s *SubprocessSource) roundTripLocked(request *pluginFrame) (*pluginFrame, error) {
	if err := writeFrame(s.stdin, request); err != nil {
		return nil, err
	}
	response, err := readFrame(s.stdout)
	if err != nil {
		return nil, err
	}
	if response.Kind != request.Kind {
		return nil, fmt.Errorf("plugin answered %q to %q", response.Kind, request.Kind)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("plugin error: %s", response.Error)
	}
	return response, nil
}

// MatchTrack forwards the match call over the pipe
func (s *SubprocessSource) MatchTrack(info *tagger.AudioFileInfo, config *tagger.TaggerConfig) ([]tagger.TrackMatch, error) {
	response, err := s.roundTrip(&pluginFrame{Kind: frameMatchTrack, Info: info, Config: config})
	if err != nil {
		return nil, err
	}
	return response.Matches, nil
}

// ExtendTrack forwards the extension call over the pipe
func (s *SubprocessSource) ExtendTrack(track *tagger.Track, config *tagger.TaggerConfig) error {
	response, err := s.roundTrip(&pluginFrame{Kind: frameExtendTrack, Track: track, Config: config})
	if err != nil {
		return err
	}
	if response.Track != nil {
		*track = *response.Track
	}
	return nil
}

// PipInstall asks a script plugin to install its requirements
func (s *SubprocessSource) PipInstall(requirements []string) error {
	_, err := s.roundTrip(&pluginFrame{Kind: framePipInstall, Requirements: requirements})
	return err
}

// Close asks the child to exit and reaps it
func (s *SubprocessSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil
	}
	writeFrame(s.stdin, &pluginFrame{Kind: frameExit})
	s.stdin.Close()
	err := s.cmd.Wait()
	s.cmd = nil
	s.stdin = nil
	s.stdout = nil
	return err
}

// writeFrame emits a 4-byte big-endian length prefix followed by the
// JSON payload
func writeFrame(w io.Writer, frame *pluginFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func readFrame(r io.Reader) (*pluginFrame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > 64<<20 {
		return nil, fmt.Errorf("oversized plugin frame: %d bytes", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	var frame pluginFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}
