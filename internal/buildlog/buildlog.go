// Package buildlog appends one JSONL record per compilation to a build log
// with size-based rotation, so a rules project keeps an auditable history
// of what was compiled, when, and with what outcome.
package buildlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// maxLogBytes is the file size at which the log is rotated (10 MB).
const maxLogBytes = 10 * 1024 * 1024

// Event is one build record.
type Event struct {
	Timestamp  string `json:"timestamp"`
	BuildID    string `json:"build_id"`
	RulesPath  string `json:"rules_path"`
	OutputDir  string `json:"output_dir,omitempty"`
	Success    bool   `json:"success"`
	RuleCount  int    `json:"rule_count"`
	GroupCount int    `json:"group_count,omitempty"`
	ErrorCount int    `json:"error_count,omitempty"`
	WarnCount  int    `json:"warn_count,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Logger appends events to a JSONL file.
type Logger struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// Open creates or appends to the log at path.
func Open(path string) (*Logger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{path: path, file: file}, nil
}

// rotateIfNeeded renames the log to <path>.1 once it reaches maxLogBytes
// and opens a fresh file. Must be called with l.mu held.
func (l *Logger) rotateIfNeeded() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("stat build log: %w", err)
	}
	if info.Size() < maxLogBytes {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close build log before rotation: %w", err)
	}
	rotated := l.path + ".1"
	_ = os.Remove(rotated)
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("rotate build log: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen build log: %w", err)
	}
	l.file = f
	return nil
}

// Log appends one event.
func (l *Logger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeeded(); err != nil {
		fmt.Fprintf(os.Stderr, "pulsar: warning: build log rotation failed: %v\n", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = l.file.Write(data)
	return err
}

// Close releases the underlying file.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
