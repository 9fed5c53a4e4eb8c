package esp

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SMLunchen/mh-web-flasher/internal/layout"
)

// Port is the serial transport the loader talks through.
type Port interface {
	Write(data []byte) (int, error)
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
	Flush() error
	ResetToBootloader() error
	SetBaudRate(baud int) error
}

// ProgressFunc receives per-file progress after every block.
type ProgressFunc func(fileIndex, written, total int)

// ErrNoResponse is returned when the ROM stays silent past a deadline.
var ErrNoResponse = errors.New("timeout waiting for response")

const (
	defaultTimeout  = 3 * time.Second
	syncTimeout     = 500 * time.Millisecond
	eraseSecsPerMB  = 30
	md5SecsPerMB    = 8
	defaultSyncTry  = 10
	readChunk       = 256
	readPollTimeout = 100 * time.Millisecond
)

// Loader drives the ESP32 ROM bootloader.
type Loader struct {
	port         Port
	logger       *slog.Logger
	verify       bool
	compress     bool
	baud         int
	flashSize    uint32
	syncAttempts int

	chip   uint32
	frames frameReader
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithVerify enables an MD5 check of every written region.
func WithVerify(v bool) Option {
	return func(ld *Loader) { ld.verify = v }
}

// WithCompression sends images deflated.
func WithCompression(c bool) Option {
	return func(ld *Loader) { ld.compress = c }
}

// WithBaudRate switches to a faster line speed after sync. Zero keeps the
// connect speed.
func WithBaudRate(baud int) Option {
	return func(ld *Loader) { ld.baud = baud }
}

// WithFlashSize announces the flash chip size to the ROM.
func WithFlashSize(size uint32) Option {
	return func(ld *Loader) { ld.flashSize = size }
}

// WithSyncAttempts bounds the number of SYNC retries.
func WithSyncAttempts(n int) Option {
	return func(ld *Loader) {
		if n > 0 {
			ld.syncAttempts = n
		}
	}
}

// NewLoader creates a loader on an open port.
func NewLoader(port Port, opts ...Option) *Loader {
	l := &Loader{
		port:         port,
		logger:       slog.Default(),
		syncAttempts: defaultSyncTry,
		chip:         ChipUnknown,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Chip returns the chip ID found during Connect.
func (l *Loader) Chip() uint32 {
	return l.chip
}

// Connect resets the chip into its ROM loader, syncs, identifies the chip
// and attaches the SPI flash.
func (l *Loader) Connect(ctx context.Context) error {
	if err := l.port.ResetToBootloader(); err != nil {
		return fmt.Errorf("failed to reset into bootloader: %w", err)
	}

	if err := l.sync(ctx); err != nil {
		return fmt.Errorf("failed to sync with bootloader: %w", err)
	}

	l.chip = l.detectChip(ctx)
	l.logger.Info("connected to bootloader", "chip", ChipName(l.chip))

	if _, err := l.command(ctx, CmdSpiAttach, spiAttachPayload(), 0, defaultTimeout); err != nil {
		return fmt.Errorf("failed to attach SPI flash: %w", err)
	}

	if l.flashSize > 0 {
		if _, err := l.command(ctx, CmdSpiSetParams, spiParamsPayload(l.flashSize), 0, defaultTimeout); err != nil {
			return fmt.Errorf("failed to set flash parameters: %w", err)
		}
	}

	if l.baud > 0 {
		if err := l.changeBaud(ctx, l.baud); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) sync(ctx context.Context) error {
	for attempt := 0; attempt < l.syncAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.port.Flush()
		l.frames.reset()

		resp, err := l.command(ctx, CmdSync, syncPayload(), 0, syncTimeout)
		if err != nil {
			l.logger.Debug("sync attempt failed", "attempt", attempt+1, "error", err)
			continue
		}
		if resp.OK() {
			// The ROM answers one SYNC with several replies.
			l.drain(ctx, 100*time.Millisecond)
			return nil
		}
	}
	return fmt.Errorf("sync failed after %d attempts", l.syncAttempts)
}

func (l *Loader) drain(ctx context.Context, d time.Duration) {
	for {
		if _, err := l.readResponse(ctx, CmdSync, d); err != nil {
			return
		}
	}
}

func (l *Loader) detectChip(ctx context.Context) uint32 {
	resp, err := l.command(ctx, CmdGetSecurityInfo, nil, 0, defaultTimeout)
	if err == nil {
		if info, err := parseSecurityInfo(resp.Data); err == nil {
			return info.ChipID
		}
	}

	resp, err = l.command(ctx, CmdReadReg, words(chipMagicReg), 0, defaultTimeout)
	if err != nil {
		l.logger.Warn("could not identify chip", "error", err)
		return ChipUnknown
	}
	if id, ok := chipMagics[resp.Value]; ok {
		return id
	}
	l.logger.Warn("unrecognised chip magic", "magic", fmt.Sprintf("0x%08X", resp.Value))
	return ChipUnknown
}

func (l *Loader) changeBaud(ctx context.Context, baud int) error {
	if _, err := l.command(ctx, CmdChangeBaudrate, changeBaudPayload(uint32(baud), 0), 0, defaultTimeout); err != nil {
		return fmt.Errorf("failed to change baud rate: %w", err)
	}
	if err := l.port.SetBaudRate(baud); err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)
	l.port.Flush()
	l.frames.reset()
	l.logger.Debug("changed baud rate", "baud", baud)
	return nil
}

// encryptWord reports whether begin commands need the trailing
// encryption word. Only the original ESP32 ROM rejects it.
func (l *Loader) encryptWord() bool {
	return l.chip != ChipESP32 && l.chip != ChipUnknown
}

// WriteFlash writes each placement in order and reports progress per
// block. Empty placements report (i, 0, 0) once.
func (l *Loader) WriteFlash(ctx context.Context, placements []layout.Placement, progress ProgressFunc) error {
	if progress == nil {
		progress = func(int, int, int) {}
	}

	for i, p := range placements {
		if len(p.Data) == 0 {
			progress(i, 0, 0)
			continue
		}

		l.logger.Info("writing region", "name", p.Name, "address", fmt.Sprintf("0x%X", p.Address), "size", len(p.Data))

		var err error
		if l.compress {
			err = l.writeDeflated(ctx, i, p, progress)
		} else {
			err = l.writePlain(ctx, i, p, progress)
		}
		if err != nil {
			return fmt.Errorf("failed to write %s at 0x%X: %w", p.Name, p.Address, err)
		}

		if l.verify {
			if err := l.verifyMD5(ctx, p); err != nil {
				return fmt.Errorf("verification of %s failed: %w", p.Name, err)
			}
		}
	}
	return nil
}

func (l *Loader) writePlain(ctx context.Context, idx int, p layout.Placement, progress ProgressFunc) error {
	size := len(p.Data)
	blocks := blockCount(size, FlashBlockSize)

	begin := beginPayload(eraseSize(size), blocks, FlashBlockSize, p.Address, l.encryptWord())
	if _, err := l.command(ctx, CmdFlashBegin, begin, 0, timeoutPerMB(eraseSecsPerMB, size)); err != nil {
		return fmt.Errorf("flash begin failed: %w", err)
	}

	for seq := uint32(0); seq < blocks; seq++ {
		start := int(seq) * FlashBlockSize
		end := min(start+FlashBlockSize, size)
		block := padBlock(p.Data[start:end], FlashBlockSize)

		if _, err := l.command(ctx, CmdFlashData, dataPayload(block, seq), checksum(block), defaultTimeout); err != nil {
			return fmt.Errorf("flash data block %d failed: %w", seq, err)
		}
		progress(idx, end, size)
	}

	if _, err := l.command(ctx, CmdFlashEnd, endPayload(false), 0, defaultTimeout); err != nil {
		return fmt.Errorf("flash end failed: %w", err)
	}
	return nil
}

func (l *Loader) writeDeflated(ctx context.Context, idx int, p layout.Placement, progress ProgressFunc) error {
	size := len(p.Data)
	comp, err := deflate(p.Data)
	if err != nil {
		return err
	}
	blocks := blockCount(len(comp), FlashBlockSize)
	writeSize := blockCount(size, FlashBlockSize) * FlashBlockSize

	l.logger.Debug("compressed region", "name", p.Name, "size", size, "compressed", len(comp))

	begin := beginPayload(writeSize, blocks, FlashBlockSize, p.Address, l.encryptWord())
	if _, err := l.command(ctx, CmdFlashDeflBegin, begin, 0, timeoutPerMB(eraseSecsPerMB, size)); err != nil {
		return fmt.Errorf("deflate begin failed: %w", err)
	}

	for seq := uint32(0); seq < blocks; seq++ {
		start := int(seq) * FlashBlockSize
		end := min(start+FlashBlockSize, len(comp))
		block := comp[start:end]

		if _, err := l.command(ctx, CmdFlashDeflData, dataPayload(block, seq), checksum(block), defaultTimeout); err != nil {
			return fmt.Errorf("deflate data block %d failed: %w", seq, err)
		}

		written := size
		if seq+1 < blocks {
			written = int(uint64(size) * uint64(seq+1) / uint64(blocks))
		}
		progress(idx, written, size)
	}

	if _, err := l.command(ctx, CmdFlashDeflEnd, endPayload(false), 0, defaultTimeout); err != nil {
		return fmt.Errorf("deflate end failed: %w", err)
	}
	return nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress image: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress image: %w", err)
	}
	return buf.Bytes(), nil
}

func (l *Loader) verifyMD5(ctx context.Context, p layout.Placement) error {
	sum := md5.Sum(p.Data)
	expected := hex.EncodeToString(sum[:])

	resp, err := l.command(ctx, CmdSpiFlashMD5, md5Payload(p.Address, uint32(len(p.Data))), 0,
		timeoutPerMB(md5SecsPerMB, len(p.Data)))
	if err != nil {
		return err
	}

	var actual string
	switch {
	case len(resp.Data) >= 32:
		actual = string(resp.Data[:32])
	case len(resp.Data) == 16:
		actual = hex.EncodeToString(resp.Data)
	default:
		return fmt.Errorf("unexpected MD5 reply of %d bytes", len(resp.Data))
	}

	if actual != expected {
		return fmt.Errorf("MD5 mismatch: expected %s, got %s", expected, actual)
	}
	l.logger.Debug("region verified", "name", p.Name, "md5", actual)
	return nil
}

// command sends one request and waits for its reply.
func (l *Loader) command(ctx context.Context, cmd byte, data []byte, chk uint32, timeout time.Duration) (*Response, error) {
	frame := slipEncode(request{command: cmd, data: data, checksum: chk}.encode())
	if _, err := l.port.Write(frame); err != nil {
		return nil, err
	}

	resp, err := l.readResponse(ctx, cmd, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &CommandError{Command: cmd, Status: resp.Status, Code: resp.Error}
	}
	return resp, nil
}

// readResponse returns the next reply to cmd, skipping stale replies and
// line noise.
func (l *Loader) readResponse(ctx context.Context, cmd byte, timeout time.Duration) (*Response, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, readChunk)

	for {
		for {
			frame, ok := l.frames.next()
			if !ok {
				break
			}
			resp, err := decodeResponse(frame, romStatusLen)
			if err != nil || resp.Command != cmd {
				continue
			}
			return resp, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("command 0x%02X: %w", cmd, ErrNoResponse)
		}

		n, err := l.port.ReadWithTimeout(chunk, min(remaining, readPollTimeout))
		if n > 0 {
			l.frames.feed(chunk[:n])
		}
		if err != nil && n == 0 {
			return nil, err
		}
	}
}

func timeoutPerMB(secsPerMB float64, size int) time.Duration {
	t := time.Duration(secsPerMB * float64(size) / 1e6 * float64(time.Second))
	return max(t, defaultTimeout)
}
