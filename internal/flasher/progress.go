package flasher

import (
	"fmt"

	"github.com/SMLunchen/mh-web-flasher/internal/layout"
)

// tracker validates loader progress reports, keeps the session counters
// current and detects job completion.
type tracker struct {
	plan    []layout.Placement
	offsets []int

	file      int
	written   int
	completed bool
	err       error

	session    *Session
	onProgress func(fileIndex, written, total int)
	onComplete func()
}

func newTracker(plan []layout.Placement, s *Session, onProgress func(int, int, int), onComplete func()) *tracker {
	offsets := make([]int, len(plan))
	sum := 0
	for i, p := range plan {
		offsets[i] = sum
		sum += p.Size()
	}
	return &tracker{
		plan:       plan,
		offsets:    offsets,
		session:    s,
		onProgress: onProgress,
		onComplete: onComplete,
	}
}

func (t *tracker) report(fileIndex, written, total int) {
	if t.err != nil {
		return
	}
	if err := t.check(fileIndex, written, total); err != nil {
		t.err = &WriteError{FileIndex: fileIndex, Err: err}
		return
	}

	t.file, t.written = fileIndex, written
	t.session.progress(fileIndex, t.offsets[fileIndex]+written)
	if t.onProgress != nil {
		t.onProgress(fileIndex, written, total)
	}

	last := len(t.plan) - 1
	if fileIndex == last && written == total && !t.completed {
		t.completed = true
		if t.onComplete != nil {
			t.onComplete()
		}
	}
}

func (t *tracker) check(fileIndex, written, total int) error {
	switch {
	case fileIndex < 0 || fileIndex >= len(t.plan):
		return fmt.Errorf("progress reported for unknown file %d", fileIndex)
	case fileIndex < t.file:
		return fmt.Errorf("progress went back from file %d to %d", t.file, fileIndex)
	case total != t.plan[fileIndex].Size():
		return fmt.Errorf("file %d reported total %d, expected %d", fileIndex, total, t.plan[fileIndex].Size())
	case written < 0 || written > total:
		return fmt.Errorf("file %d reported %d of %d bytes", fileIndex, written, total)
	case fileIndex == t.file && written < t.written:
		return fmt.Errorf("progress for file %d went backwards (%d < %d)", fileIndex, written, t.written)
	}
	return nil
}

// result returns the first progress violation, or an error when the last
// placement never reported completion.
func (t *tracker) result() error {
	if t.err != nil {
		return t.err
	}
	if !t.completed {
		last := len(t.plan) - 1
		return &WriteError{
			FileIndex: last,
			Name:      t.plan[last].Name,
			Err:       fmt.Errorf("loader returned before the last file completed"),
		}
	}
	return nil
}
