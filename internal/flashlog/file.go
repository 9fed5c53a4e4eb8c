package flashlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("flash log is closed")

// FileLogger appends flash records to a CBOR file.
// It is safe for concurrent use.
type FileLogger struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// Open opens or creates the log at path, creating parent directories.
func Open(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create flash log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash log: %w", err)
	}
	return &FileLogger{file: f, encoder: newEncoder(f)}, nil
}

// Record appends r to the log.
func (l *FileLogger) Record(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if err := l.encoder.Encode(r); err != nil {
		return fmt.Errorf("failed to write flash record: %w", err)
	}
	return nil
}

// Close closes the log file. Calling it again is a no-op.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
