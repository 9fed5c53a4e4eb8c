// Package detect identifies a connected radio from the identity it
// announces over its serial console.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
	"github.com/SMLunchen/mh-web-flasher/internal/guard"
)

// DefaultDeadline bounds the handshake when the caller gives none.
const DefaultDeadline = 5 * time.Second

// Announcement is the identity a running device reports about itself.
type Announcement struct {
	PlatformioTarget string
	HwModel          int
	FirmwareVersion  string
}

// Link is a device connection able to carry the identity handshake.
type Link interface {
	guard.Transport

	// Announcements delivers identity announcements. The detector reads
	// at most one.
	Announcements() <-chan Announcement
	// Handshake asks the device to send its configuration.
	Handshake(ctx context.Context) error
	// EnterDFU asks the device to reboot into its DFU bootloader.
	EnterDFU(ctx context.Context) error
}

// UnknownDeviceError means the device answered but matches no catalog entry.
type UnknownDeviceError struct {
	Announcement Announcement
}

func (e *UnknownDeviceError) Error() string {
	if e.Announcement.PlatformioTarget != "" {
		return fmt.Sprintf("unknown device %q (hw model %d)", e.Announcement.PlatformioTarget, e.Announcement.HwModel)
	}
	return fmt.Sprintf("unknown device (hw model %d)", e.Announcement.HwModel)
}

// Detector matches announced identities against the hardware catalog.
type Detector struct {
	Open    func(ctx context.Context) (Link, error)
	Devices []catalog.Device
	Logger  *slog.Logger
}

func (d *Detector) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Match finds the catalog entry for a, by build target first and hardware
// model second.
func (d *Detector) Match(a Announcement) (*catalog.Device, bool) {
	if a.PlatformioTarget != "" {
		for i := range d.Devices {
			if d.Devices[i].PlatformioTarget == a.PlatformioTarget {
				return &d.Devices[i], true
			}
		}
	}
	for i := range d.Devices {
		if d.Devices[i].HwModel == a.HwModel {
			return &d.Devices[i], true
		}
	}
	return nil, false
}

// Detect opens a link, runs the handshake and returns the matching device.
// nRF devices are switched into DFU mode before Detect returns. The link
// is torn down on every path. When the handshake times out and preselected
// is set, preselected is returned without error.
func (d *Detector) Detect(ctx context.Context, deadline time.Duration, preselected *catalog.Device) (*catalog.Device, error) {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	log := d.logger()

	link, err := d.Open(ctx)
	if err != nil {
		return nil, &guard.DeviceError{Err: err}
	}
	g := guard.New(link, log)
	defer g.Teardown()

	a, err := guard.WithDeadline(ctx, deadline, func(ctx context.Context) (Announcement, error) {
		return awaitAnnouncement(ctx, link)
	})
	if err != nil {
		if errors.Is(err, guard.ErrTimeout) && preselected != nil {
			log.Info("device did not answer; keeping selected target", "target", preselected.PlatformioTarget)
			return preselected, nil
		}
		return nil, err
	}

	dev, ok := d.Match(a)
	if !ok {
		return nil, &UnknownDeviceError{Announcement: a}
	}
	log.Info("device detected", "target", dev.PlatformioTarget, "hwModel", dev.HwModel, "firmware", a.FirmwareVersion)

	if catalog.IsNRF(dev.Architecture) {
		if _, err := guard.WithDeadline(ctx, deadline, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, link.EnterDFU(ctx)
		}); err != nil {
			return dev, fmt.Errorf("failed to enter DFU mode: %w", err)
		}
		log.Info("device switched to DFU mode")
	}
	return dev, nil
}

// awaitAnnouncement runs the handshake and returns the first announcement.
// A handshake that completes without one keeps waiting until ctx ends.
func awaitAnnouncement(ctx context.Context, link Link) (Announcement, error) {
	hs := make(chan error, 1)
	go func() { hs <- link.Handshake(ctx) }()

	for {
		select {
		case a := <-link.Announcements():
			return a, nil
		case err := <-hs:
			if err != nil {
				return Announcement{}, err
			}
			hs = nil
		case <-ctx.Done():
			return Announcement{}, ctx.Err()
		}
	}
}

// EnterDFU connects to a running device and asks it to reboot into its DFU
// bootloader, without consulting the catalog.
func (d *Detector) EnterDFU(ctx context.Context, deadline time.Duration) error {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	log := d.logger()

	link, err := d.Open(ctx)
	if err != nil {
		return &guard.DeviceError{Err: err}
	}
	g := guard.New(link, log)
	defer g.Teardown()

	_, err = guard.WithDeadline(ctx, deadline, func(ctx context.Context) (struct{}, error) {
		if err := link.Handshake(ctx); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, link.EnterDFU(ctx)
	})
	if err != nil {
		return err
	}
	log.Info("device switched to DFU mode")
	return nil
}
