package esp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoChip is returned when no scanned port answers as an ESP32 loader.
var ErrNoChip = errors.New("no ESP32 device found")

// ProbePort is a port the prober may release when done.
type ProbePort interface {
	Port
	Release() error
}

// OpenFunc opens a port by name.
type OpenFunc func(name string) (ProbePort, error)

// Probe resets the chip behind port into its loader and identifies it.
// The flash is not touched.
func Probe(ctx context.Context, port Port, logger *slog.Logger) (uint32, error) {
	l := NewLoader(port, WithLogger(logger), WithSyncAttempts(5))
	if err := port.ResetToBootloader(); err != nil {
		return ChipUnknown, fmt.Errorf("failed to reset: %w", err)
	}
	if err := l.sync(ctx); err != nil {
		return ChipUnknown, fmt.Errorf("failed to sync: %w", err)
	}
	return l.detectChip(ctx), nil
}

// Scan probes each named port in turn and returns the first chip found.
func Scan(ctx context.Context, names []string, open OpenFunc, logger *slog.Logger) (*ChipInfo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no serial ports found", ErrNoChip)
	}

	var lastErr error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := probeOne(ctx, name, open, logger)
		if err != nil {
			logger.Debug("port did not answer", "port", name, "error", err)
			lastErr = err
			continue
		}
		return info, nil
	}
	return nil, fmt.Errorf("%w (last error: %w)", ErrNoChip, lastErr)
}

func probeOne(ctx context.Context, name string, open OpenFunc, logger *slog.Logger) (*ChipInfo, error) {
	port, err := open(name)
	if err != nil {
		return nil, err
	}
	defer port.Release()

	id, err := Probe(ctx, port, logger)
	if err != nil {
		return nil, err
	}
	return &ChipInfo{Port: name, ID: id, Name: ChipName(id)}, nil
}
