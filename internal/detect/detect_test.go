package detect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
	"github.com/SMLunchen/mh-web-flasher/internal/guard"
)

// ---------------------------------------------------------------------------
// fakeLink
// ---------------------------------------------------------------------------

type fakeLink struct {
	mu sync.Mutex

	announce     *Announcement
	handshakeErr error
	silent       bool
	dfuErr       error

	ch        chan Announcement
	dfu       int
	cancels   int
	closes    int
	releases  int
	handshake int
}

func newFakeLink(a *Announcement) *fakeLink {
	return &fakeLink{announce: a, ch: make(chan Announcement, 1)}
}

func (l *fakeLink) Announcements() <-chan Announcement { return l.ch }

func (l *fakeLink) Handshake(ctx context.Context) error {
	l.mu.Lock()
	l.handshake++
	l.mu.Unlock()
	if l.silent {
		<-ctx.Done()
		return ctx.Err()
	}
	if l.handshakeErr != nil {
		return l.handshakeErr
	}
	if l.announce != nil {
		l.ch <- *l.announce
	}
	return nil
}

func (l *fakeLink) EnterDFU(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dfu++
	return l.dfuErr
}

func (l *fakeLink) CancelInbound() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancels++
	return nil
}

func (l *fakeLink) CloseOutbound() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return nil
}

func (l *fakeLink) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	return nil
}

func (l *fakeLink) snapshot() (dfu, releases int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dfu, l.releases
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var devices = []catalog.Device{
	{HwModel: 4, HwModelSlug: "TBEAM", PlatformioTarget: "tbeam", Architecture: "esp32"},
	{HwModel: 9, HwModelSlug: "RAK4631", PlatformioTarget: "rak4631", Architecture: "nrf52840"},
	{HwModel: 9, HwModelSlug: "RAK4631", PlatformioTarget: "rak4631_eth_gw", Architecture: "nrf52840"},
	{HwModel: 43, HwModelSlug: "HELTEC_V3", PlatformioTarget: "heltec-v3", Architecture: "esp32-s3"},
}

func newDetector(link *fakeLink) *Detector {
	return &Detector{
		Open:    func(context.Context) (Link, error) { return link, nil },
		Devices: devices,
	}
}

// ---------------------------------------------------------------------------
// Match
// ---------------------------------------------------------------------------

func TestMatch(t *testing.T) {
	d := &Detector{Devices: devices}

	dev, ok := d.Match(Announcement{PlatformioTarget: "rak4631_eth_gw", HwModel: 9})
	require.True(t, ok)
	assert.Equal(t, "rak4631_eth_gw", dev.PlatformioTarget, "target name beats model id")

	dev, ok = d.Match(Announcement{HwModel: 43})
	require.True(t, ok)
	assert.Equal(t, "heltec-v3", dev.PlatformioTarget)

	dev, ok = d.Match(Announcement{PlatformioTarget: "not-in-catalog", HwModel: 4})
	require.True(t, ok)
	assert.Equal(t, "tbeam", dev.PlatformioTarget, "falls back to model id")

	_, ok = d.Match(Announcement{HwModel: 999})
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Detect
// ---------------------------------------------------------------------------

func TestDetect_ESP32(t *testing.T) {
	link := newFakeLink(&Announcement{PlatformioTarget: "heltec-v3", HwModel: 43})

	dev, err := newDetector(link).Detect(context.Background(), time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "heltec-v3", dev.PlatformioTarget)

	dfu, releases := link.snapshot()
	assert.Equal(t, 0, dfu)
	assert.Equal(t, 1, releases)
}

func TestDetect_NRFEntersDFU(t *testing.T) {
	link := newFakeLink(&Announcement{HwModel: 9})

	dev, err := newDetector(link).Detect(context.Background(), time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "nrf52840", dev.Architecture)

	dfu, releases := link.snapshot()
	assert.Equal(t, 1, dfu)
	assert.Equal(t, 1, releases)
}

func TestDetect_DFUFailure(t *testing.T) {
	link := newFakeLink(&Announcement{HwModel: 9})
	link.dfuErr = errors.New("write failed")

	dev, err := newDetector(link).Detect(context.Background(), time.Second, nil)
	require.Error(t, err)
	assert.NotNil(t, dev)
	_, releases := link.snapshot()
	assert.Equal(t, 1, releases)
}

func TestDetect_UnknownDevice(t *testing.T) {
	link := newFakeLink(&Announcement{HwModel: 999})

	_, err := newDetector(link).Detect(context.Background(), time.Second, nil)
	var ue *UnknownDeviceError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 999, ue.Announcement.HwModel)
	_, releases := link.snapshot()
	assert.Equal(t, 1, releases)
}

func TestDetect_TimeoutWithoutPreselection(t *testing.T) {
	link := newFakeLink(nil)
	link.silent = true

	_, err := newDetector(link).Detect(context.Background(), 20*time.Millisecond, nil)
	assert.ErrorIs(t, err, guard.ErrTimeout)
	_, releases := link.snapshot()
	assert.Equal(t, 1, releases)
}

func TestDetect_TimeoutWithPreselectionIsBenign(t *testing.T) {
	link := newFakeLink(nil)
	link.silent = true
	pre := &devices[0]

	dev, err := newDetector(link).Detect(context.Background(), 20*time.Millisecond, pre)
	require.NoError(t, err)
	assert.Same(t, pre, dev)
	_, releases := link.snapshot()
	assert.Equal(t, 1, releases)
}

func TestDetect_HandshakeCompletesWithoutAnnouncement(t *testing.T) {
	link := newFakeLink(nil)

	_, err := newDetector(link).Detect(context.Background(), 30*time.Millisecond, nil)
	assert.ErrorIs(t, err, guard.ErrTimeout)
}

func TestDetect_HandshakeError(t *testing.T) {
	link := newFakeLink(nil)
	link.handshakeErr = errors.New("port vanished")

	_, err := newDetector(link).Detect(context.Background(), time.Second, &devices[0])
	var de *guard.DeviceError
	require.ErrorAs(t, err, &de)
	_, releases := link.snapshot()
	assert.Equal(t, 1, releases)
}

func TestDetect_OpenFailure(t *testing.T) {
	d := &Detector{Open: func(context.Context) (Link, error) { return nil, errors.New("busy") }}

	_, err := d.Detect(context.Background(), time.Second, nil)
	var de *guard.DeviceError
	assert.ErrorAs(t, err, &de)
}

// ---------------------------------------------------------------------------
// EnterDFU
// ---------------------------------------------------------------------------

func TestEnterDFU(t *testing.T) {
	link := newFakeLink(&Announcement{HwModel: 4})

	require.NoError(t, newDetector(link).EnterDFU(context.Background(), time.Second))
	dfu, releases := link.snapshot()
	assert.Equal(t, 1, dfu, "no catalog check for an explicit request")
	assert.Equal(t, 1, releases)
}

func TestEnterDFU_Timeout(t *testing.T) {
	link := newFakeLink(nil)
	link.silent = true

	err := newDetector(link).EnterDFU(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, guard.ErrTimeout)
	dfu, releases := link.snapshot()
	assert.Equal(t, 0, dfu)
	assert.Equal(t, 1, releases)
}
