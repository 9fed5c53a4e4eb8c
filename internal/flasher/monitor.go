package flasher

import (
	"context"
	"io"
	"sync"
)

// monitor copies device output to a writer until stopped or until the
// source fails. It is attached to the session guard as a secondary stream.
type monitor struct {
	src io.Reader
	dst io.Writer

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	err      error
}

func startMonitor(src io.Reader, dst io.Writer) *monitor {
	m := &monitor{
		src:  src,
		dst:  dst,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *monitor) run() {
	defer close(m.done)
	buf := make([]byte, 1024)
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		n, err := m.src.Read(buf)
		if n > 0 {
			if _, werr := m.dst.Write(buf[:n]); werr != nil {
				m.err = werr
				return
			}
		}
		if err != nil {
			m.err = err
			return
		}
	}
}

// Done is closed once the copy loop has exited.
func (m *monitor) Done() <-chan struct{} {
	return m.done
}

// Err returns why the copy loop exited; valid after Done.
func (m *monitor) Err() error {
	<-m.done
	return m.err
}

// Stop ends the copy loop and waits for it.
func (m *monitor) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
