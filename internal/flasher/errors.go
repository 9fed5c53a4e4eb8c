package flasher

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a session is already running on an orchestrator.
var ErrBusy = errors.New("a flashing session is already active")

// WriteError is a failure while writing placements.
type WriteError struct {
	FileIndex int
	Name      string
	Err       error
}

func (e *WriteError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("write of %s (file %d) failed: %v", e.Name, e.FileIndex, e.Err)
	}
	return fmt.Sprintf("write of file %d failed: %v", e.FileIndex, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// UnsupportedArchitectureError means no flashing path exists for a target.
type UnsupportedArchitectureError struct {
	Architecture string
}

func (e *UnsupportedArchitectureError) Error() string {
	return fmt.Sprintf("unsupported architecture %q", e.Architecture)
}
