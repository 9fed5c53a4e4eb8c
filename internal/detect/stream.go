package detect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/SMLunchen/mh-web-flasher/internal/guard"
)

// StreamPort is the serial transport a StreamLink talks through.
type StreamPort interface {
	io.ReadWriter
	guard.Transport
}

// ErrNodeUnknown is returned by EnterDFU before the radio reported its node number.
var ErrNodeUnknown = errors.New("node number not yet known")

// wakeBytes precede the first request so a sleeping console starts listening.
var wakeBytes = func() []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = frameStart2
	}
	return b
}()

// StreamLink speaks the radio firmware's framed serial protocol. It reads
// the device metadata sent during the configuration handshake and can ask
// the node to reboot into its DFU bootloader.
type StreamLink struct {
	StreamPort

	logger        *slog.Logger
	announcements chan Announcement

	startOnce sync.Once
	readDone  chan struct{}

	mu       sync.Mutex
	readErr  error
	node     uint32
	hasNode  bool
	configID uint32
	complete chan struct{}
	announce bool
}

// NewStreamLink wraps port. A nil logger uses slog.Default().
func NewStreamLink(port StreamPort, logger *slog.Logger) *StreamLink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamLink{
		StreamPort:    port,
		logger:        logger,
		announcements: make(chan Announcement, 1),
		readDone:      make(chan struct{}),
		complete:      make(chan struct{}),
	}
}

// Announcements delivers at most one device identity.
func (l *StreamLink) Announcements() <-chan Announcement {
	return l.announcements
}

// Handshake requests the node configuration and waits until the radio
// reports it complete.
func (l *StreamLink) Handshake(ctx context.Context) error {
	l.startOnce.Do(func() { go l.readLoop() })

	id := rand.Uint32()
	l.mu.Lock()
	l.configID = id
	l.mu.Unlock()

	if _, err := l.Write(wakeBytes); err != nil {
		return err
	}
	if _, err := l.Write(encodeFrame(wantConfig(id))); err != nil {
		return err
	}
	l.logger.Debug("requested node configuration", "id", id)

	select {
	case <-l.complete:
		return nil
	case <-l.readDone:
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.readErr != nil {
			return l.readErr
		}
		return io.ErrUnexpectedEOF
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnterDFU asks the connected node to reboot into its DFU bootloader.
func (l *StreamLink) EnterDFU(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	node, ok := l.node, l.hasNode
	l.mu.Unlock()
	if !ok {
		return ErrNodeUnknown
	}
	_, err := l.Write(encodeFrame(enterDFU(node, rand.Uint32())))
	if err == nil {
		l.logger.Info("requested DFU mode", "node", node)
	}
	return err
}

func (l *StreamLink) readLoop() {
	defer close(l.readDone)

	var fr frameReader
	buf := make([]byte, 256)
	for {
		n, err := l.Read(buf)
		if n > 0 {
			fr.feed(buf[:n])
			for {
				frame, ok := fr.next()
				if !ok {
					break
				}
				l.handle(frame)
			}
		}
		if err != nil {
			l.mu.Lock()
			l.readErr = err
			l.mu.Unlock()
			return
		}
	}
}

func (l *StreamLink) handle(frame []byte) {
	msg, err := decodeFromRadio(frame)
	if err != nil {
		l.logger.Debug("dropping radio frame", "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.hasNodeNum {
		l.node, l.hasNode = msg.nodeNum, true
	}
	if msg.metadata != nil && !l.announce {
		l.announce = true
		l.announcements <- *msg.metadata
	}
	if msg.hasComplete && msg.configComplete == l.configID {
		select {
		case <-l.complete:
		default:
			close(l.complete)
		}
	}
}
