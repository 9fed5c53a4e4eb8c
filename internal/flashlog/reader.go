package flashlog

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects records. Zero fields match everything.
type Filter struct {
	// Target matches the hardware slug or build target, case-insensitively.
	Target string
	// Since drops records older than this time.
	Since time.Time
}

func (f Filter) matches(r Record) bool {
	if f.Target != "" && !strings.EqualFold(r.Target, f.Target) && !strings.EqualFold(r.Hardware, f.Target) {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Reader streams records from a log file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens the log at path.
func NewReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, decoder: newDecoder(f), filter: filter}, nil
}

// Next returns the next matching record, or io.EOF.
func (r *Reader) Next() (Record, error) {
	for {
		var rec Record
		if err := r.decoder.Decode(&rec); err != nil {
			return Record{}, err
		}
		if r.filter.matches(rec) {
			return rec, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadAll returns every matching record in path. A missing log yields no
// records.
func ReadAll(path string, filter Filter) ([]Record, error) {
	r, err := NewReader(path, filter)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
