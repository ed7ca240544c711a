// Package report streams tagging status events as JSONL for UI and CLI
// consumers.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/franz/onetagger/internal/tagger"
)

// Event is one serialized status-stream entry
type Event struct {
	Timestamp time.Time             `json:"ts"`
	RunID     string                `json:"run_id,omitempty"`
	File      string                `json:"file"`
	Platform  string                `json:"platform,omitempty"`
	State     tagger.TaggingState   `json:"state"`
	Accuracy  *float64              `json:"accuracy,omitempty"`
	Reasons   []tagger.MatchReason  `json:"reasons,omitempty"`
	Message   string                `json:"message,omitempty"`
}

// EventLogger writes events to a JSONL file. Safe for concurrent use.
type EventLogger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	path    string
	runID   string
}

// NewEventLogger creates a timestamped JSONL log in outputDir
func NewEventLogger(outputDir, runID string) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(outputDir, fmt.Sprintf("tagging-%s.jsonl", time.Now().Format("20060102-150405")))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}
	return &EventLogger{
		file:    file,
		encoder: json.NewEncoder(file),
		path:    path,
		runID:   runID,
	}, nil
}

// LogStatus appends one tagging status to the stream
func (l *EventLogger) LogStatus(status tagger.TaggingStatus) error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoder.Encode(&Event{
		Timestamp: time.Now(),
		RunID:     l.runID,
		File:      status.FilePath,
		Platform:  status.UsedPlatform,
		State:     status.State,
		Accuracy:  status.Accuracy,
		Reasons:   status.Reasons,
		Message:   status.Message,
	})
}

// Path returns the log file path
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close flushes and closes the stream
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
