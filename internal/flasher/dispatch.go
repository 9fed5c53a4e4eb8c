package flasher

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/SMLunchen/mh-web-flasher/internal/artifact"
	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
	"github.com/SMLunchen/mh-web-flasher/internal/flashlog"
)

// Runner runs serial flashing jobs.
type Runner interface {
	Run(ctx context.Context, job Job) (*Session, error)
}

// Recorder keeps a history of completed flashes.
type Recorder interface {
	Record(r flashlog.Record) error
}

// Result describes a finished flash.
type Result struct {
	Family catalog.Family

	// Session is set for serial-programmed targets.
	Session *Session

	// UF2Path and UF2Blocks are set for mass-storage targets. The image
	// still has to be copied onto the device's boot drive.
	UF2Path   string
	UF2Blocks int
}

// Dispatcher routes a job to the flashing path of the target's chip family.
type Dispatcher struct {
	Runner      Runner
	Resolver    Resolver
	DownloadDir string
	History     Recorder
	Logger      *slog.Logger
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Flash flashes job.Device. UF2 families are served by downloading the
// image; ESP32 targets run a serial session; anything else fails with
// *UnsupportedArchitectureError.
func (d *Dispatcher) Flash(ctx context.Context, job Job) (*Result, error) {
	if job.Device == nil {
		return nil, errors.New("no target device selected")
	}

	fam := catalog.FamilyOf(job.Device.Architecture)
	res := &Result{Family: fam}

	switch {
	case fam.UsesUF2():
		path, blocks, err := d.downloadUF2(ctx, job)
		if err != nil {
			return nil, err
		}
		res.UF2Path, res.UF2Blocks = path, blocks

	case fam == catalog.FamilyESP32:
		s, err := d.Runner.Run(ctx, job)
		res.Session = s
		if err != nil {
			return res, err
		}

	default:
		return nil, &UnsupportedArchitectureError{Architecture: job.Device.Architecture}
	}

	d.record(job)
	return res, nil
}

func (d *Dispatcher) downloadUF2(ctx context.Context, job Job) (string, int, error) {
	name := artifact.Names(job.Device, job.Firmware).UF2
	data, err := d.Resolver.Resolve(ctx, job.Firmware, name, job.Upload)
	if err != nil {
		return "", 0, err
	}

	blocks, err := artifact.ValidateUF2(data)
	if err != nil {
		return "", 0, err
	}

	fileName := strings.ReplaceAll(name, ".+", "local")
	if job.Upload != nil && !job.Upload.IsArchive() {
		fileName = job.Upload.Name
	}
	path, err := artifact.SaveUF2(d.DownloadDir, fileName, data)
	if err != nil {
		return "", 0, err
	}

	d.logger().Info("UF2 image saved", "path", path, "blocks", blocks)
	return path, blocks, nil
}

func (d *Dispatcher) record(job Job) {
	if d.History == nil {
		return
	}
	if err := d.History.Record(flashlog.NewRecord(job.Device, job.Firmware, job.Kind == KindCleanInstall, job.Scheme.String())); err != nil {
		d.logger().Warn("failed to record flash", "error", err)
	}
}
