package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrTimeout is returned when a guarded operation does not settle before
// its deadline.
var ErrTimeout = errors.New("connection timed out")

// DeviceError wraps a failure reported by the transport or device layer.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error: %v", e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Outcome classifies the result of a guarded operation.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeTimeout
	OutcomeDeviceError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "device-error"
	}
}

// Classify maps an error returned by WithDeadline to its outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	default:
		return OutcomeDeviceError
	}
}

type result[T any] struct {
	val T
	err error
}

// WithDeadline runs op and races it against a timer. The first to settle
// decides the outcome. The loser is cancelled through its context and any
// late result is discarded without effect.
func WithDeadline[T any](ctx context.Context, deadline time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so a late op can always deliver and exit.
	done := make(chan result[T], 1)
	go func() {
		v, err := op(opCtx)
		done <- result[T]{val: v, err: err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, ErrTimeout) {
				return zero, r.err
			}
			return zero, &DeviceError{Err: r.err}
		}
		return r.val, nil
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, &DeviceError{Err: ctx.Err()}
	}
}

// Transport is the part of a port the guard needs to release it.
type Transport interface {
	// CancelInbound stops the inbound stream.
	CancelInbound() error
	// CloseOutbound flushes and closes the outbound stream.
	CloseOutbound() error
	// Release closes and forgets the underlying port.
	Release() error
}

// Secondary is an auxiliary reader/writer pair attached to a transport,
// such as an output monitor.
type Secondary interface {
	// Stop cancels the reader, closes the writer and waits for both.
	Stop(ctx context.Context) error
}

// Guard owns the teardown of one transport.
type Guard struct {
	transport Transport
	logger    *slog.Logger

	mu        sync.Mutex
	secondary []Secondary

	once sync.Once
	torn bool

	// StopTimeout bounds how long teardown waits for secondary streams.
	StopTimeout time.Duration
}

// New creates a guard for transport. A nil logger uses slog.Default().
func New(t Transport, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		transport:   t,
		logger:      logger,
		StopTimeout: 2 * time.Second,
	}
}

// Attach registers a secondary stream to be stopped during teardown.
func (g *Guard) Attach(s Secondary) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.secondary = append(g.secondary, s)
}

// Torn reports whether Teardown has run.
func (g *Guard) Torn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.torn
}

// Teardown releases the transport. Every step runs even if an earlier one
// fails; failures are logged and never returned. Only the first call has
// any effect.
func (g *Guard) Teardown() {
	g.once.Do(g.teardown)
}

func (g *Guard) teardown() {
	g.mu.Lock()
	g.torn = true
	secondary := g.secondary
	g.secondary = nil
	g.mu.Unlock()

	if g.transport == nil {
		return
	}

	g.logger.Debug("tearing down transport")
	g.step("cancel inbound", g.transport.CancelInbound)
	g.step("close outbound", g.transport.CloseOutbound)

	for _, s := range secondary {
		g.step("stop secondary", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), g.StopTimeout)
			defer cancel()
			return s.Stop(ctx)
		})
	}

	if g.step("release port", g.transport.Release) {
		return
	}
	if !g.step("release port (retry)", g.transport.Release) {
		g.logger.Warn("port could not be released")
	}
}

// step runs fn, converting panics into logged failures.
func (g *Guard) step(name string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("teardown step panicked", "step", name, "panic", r)
			ok = false
		}
	}()
	if err := fn(); err != nil {
		g.logger.Warn("teardown step failed", "step", name, "error", err)
		return false
	}
	return true
}
