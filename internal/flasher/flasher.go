package flasher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/SMLunchen/mh-web-flasher/internal/artifact"
	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
	"github.com/SMLunchen/mh-web-flasher/internal/esp"
	"github.com/SMLunchen/mh-web-flasher/internal/guard"
	"github.com/SMLunchen/mh-web-flasher/internal/layout"
)

// DefaultConnectTimeout bounds the bootloader handshake.
const DefaultConnectTimeout = 30 * time.Second

// Port is the serial transport a session exclusively owns.
type Port interface {
	esp.Port
	io.Reader
	guard.Transport
	HardReset() error
	OnDisconnect(fn func(error))
}

// Loader writes images through the ROM bootloader.
type Loader interface {
	Connect(ctx context.Context) error
	WriteFlash(ctx context.Context, placements []layout.Placement, progress esp.ProgressFunc) error
}

// Resolver turns logical artifact names into bytes.
type Resolver interface {
	Resolve(ctx context.Context, fw *catalog.Firmware, name string, up *artifact.Upload) ([]byte, error)
}

// Kind selects which images a job writes.
type Kind int

const (
	// KindUpdate writes the application update image only.
	KindUpdate Kind = iota
	// KindCleanInstall writes the factory image, OTA loader and filesystem.
	KindCleanInstall
	// KindFactory writes an uploaded factory image from address zero.
	KindFactory
)

func (k Kind) String() string {
	switch k {
	case KindCleanInstall:
		return "clean-install"
	case KindFactory:
		return "factory"
	default:
		return "update"
	}
}

// Job describes one flashing request.
type Job struct {
	Kind     Kind
	Device   *catalog.Device
	Firmware *catalog.Firmware
	Upload   *artifact.Upload
	Scheme   layout.Scheme
}

// Orchestrator runs the connect, prepare, write, reset and stream sequence
// for serial-programmed chips.
type Orchestrator struct {
	Open      func(ctx context.Context) (Port, error)
	NewLoader func(p esp.Port) Loader
	Resolver  Resolver
	Supports  layout.VersionPredicate

	ConnectTimeout time.Duration

	// Output receives device output after the reset. When nil the session
	// finishes as soon as the device has been reset.
	Output io.Writer

	Logger        *slog.Logger
	OnStateChange func(s *Session, from, to State)
	OnProgress    func(fileIndex, written, total int)
	OnComplete    func()

	active atomic.Bool
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Run executes job. The transport is released before Run returns, on
// every path. Cancelling ctx during Streaming ends the session in Done;
// cancellation has no effect once Writing has begun.
func (o *Orchestrator) Run(ctx context.Context, job Job) (*Session, error) {
	if !o.active.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.active.Store(false)

	s := newSession(o.OnStateChange)
	log := o.logger().With("session", s.ID().String())

	defer func() {
		if g := s.boundGuard(); g != nil {
			g.Teardown()
		}
	}()

	if err := o.run(ctx, s, job, log); err != nil {
		s.fail(err)
		log.Error("flashing failed", "state", s.State(), "error", err)
		return s, err
	}
	return s, nil
}

func (o *Orchestrator) run(ctx context.Context, s *Session, job Job, log *slog.Logger) error {
	if job.Device == nil {
		return errors.New("no target device selected")
	}

	// Connecting
	if err := s.transition(Connecting); err != nil {
		return err
	}
	port, err := o.Open(ctx)
	if err != nil {
		return &guard.DeviceError{Err: err}
	}
	s.bind(guard.New(port, log))
	port.OnDisconnect(func(err error) {
		log.Warn("device disconnected", "error", err)
	})

	loader := o.NewLoader(port)
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	_, err = guard.WithDeadline(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, loader.Connect(ctx)
	})
	if err != nil {
		return err
	}

	// Preparing
	if err := s.transition(Preparing); err != nil {
		return err
	}
	plan, err := o.prepare(ctx, job, log)
	if err != nil {
		return err
	}

	// Writing
	if err := s.transition(Writing); err != nil {
		return err
	}
	log.Info("writing firmware", "kind", job.Kind, "files", len(plan), "bytes", layout.TotalSize(plan))
	t := newTracker(plan, s, o.OnProgress, o.OnComplete)
	if err := loader.WriteFlash(context.WithoutCancel(ctx), plan, t.report); err != nil {
		var we *WriteError
		if errors.As(err, &we) {
			return err
		}
		return &WriteError{FileIndex: s.FileIndex(), Err: err}
	}
	if err := t.result(); err != nil {
		return err
	}

	// Resetting
	if err := s.transition(Resetting); err != nil {
		return err
	}
	if err := port.HardReset(); err != nil {
		return &guard.DeviceError{Err: fmt.Errorf("reset failed: %w", err)}
	}

	// Streaming
	if err := s.transition(Streaming); err != nil {
		return err
	}
	if o.Output != nil {
		m := startMonitor(port, o.Output)
		s.boundGuard().Attach(m)
		select {
		case <-ctx.Done():
		case <-m.Done():
			log.Debug("device output ended", "error", m.Err())
		}
	}

	return s.transition(Done)
}

func (o *Orchestrator) prepare(ctx context.Context, job Job, log *slog.Logger) ([]layout.Placement, error) {
	names := artifact.Names(job.Device, job.Firmware)
	get := func(name string) ([]byte, error) {
		data, err := o.Resolver.Resolve(ctx, job.Firmware, name, job.Upload)
		if err != nil {
			return nil, err
		}
		log.Debug("resolved artifact", "name", name, "size", len(data))
		return data, nil
	}

	switch job.Kind {
	case KindUpdate:
		app, err := get(names.Update)
		if err != nil {
			return nil, err
		}
		return layout.UpdatePlan(app), nil

	case KindFactory:
		img, err := get(names.Factory)
		if err != nil {
			return nil, err
		}
		return layout.FactoryPlan(img), nil

	case KindCleanInstall:
		app, err := get(names.Factory)
		if err != nil {
			return nil, err
		}
		ota, err := get(names.OTA)
		if err != nil {
			return nil, err
		}
		fs, err := get(names.Filesystem)
		if err != nil {
			return nil, err
		}
		off := layout.Resolve(job.Scheme, job.Device.HasMui, job.Firmware.Version(), o.Supports)
		log.Info("partition layout", "scheme", job.Scheme, "ota", fmt.Sprintf("0x%X", off.OTA), "littlefs", fmt.Sprintf("0x%X", off.Filesystem))
		return layout.CleanInstallPlan(off, app, ota, fs), nil

	default:
		return nil, fmt.Errorf("unknown job kind %d", job.Kind)
	}
}
