package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/SMLunchen/mh-web-flasher/internal/artifact"
	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
	"github.com/SMLunchen/mh-web-flasher/internal/esp"
	"github.com/SMLunchen/mh-web-flasher/internal/flasher"
	"github.com/SMLunchen/mh-web-flasher/internal/flashlog"
	"github.com/SMLunchen/mh-web-flasher/internal/guard"
	"github.com/SMLunchen/mh-web-flasher/internal/layout"
	"github.com/SMLunchen/mh-web-flasher/internal/serial"
)

var (
	firmwareFlag     string
	firmwareJSONFlag string
	fileFlag         string
	cleanFlag        bool
	schemeFlag       string
	monitorFlag      bool
	noVerifyFlag     bool
	noCompressFlag   bool
)

func newFlashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flash <target>",
		Short: "Flash firmware to a board",
		Long: `Flash firmware to the board identified by <target> (slug or build target).

Firmware comes from the configured firmware index (--firmware selects a
release, newest by default), a release descriptor (--firmware-json), or a
local file or release zip (--file).

ESP32 boards are written over serial. By default only the application
update image is written at 0x10000. --clean erases settings by writing the
factory image, the BLE OTA loader and the filesystem, placed according to
--scheme. A local *.factory.bin is written from address 0.

nRF52 and RP2040 boards get their UF2 image saved to the download
directory; copy it onto the bootloader drive (see 'mh-flasher uf2').`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	addPortFlags(cmd)
	cmd.Flags().StringVarP(&firmwareFlag, "firmware", "f", "", "Firmware release id from the index (default: newest)")
	cmd.Flags().StringVar(&firmwareJSONFlag, "firmware-json", "", "Firmware release descriptor JSON")
	cmd.Flags().StringVar(&fileFlag, "file", "", "Local firmware file or release zip")
	cmd.Flags().BoolVar(&cleanFlag, "clean", false, "Clean install (factory image, OTA loader and filesystem)")
	cmd.Flags().StringVar(&schemeFlag, "scheme", "", "Partition scheme for clean installs: default, 8MB or 16MB")
	cmd.Flags().BoolVarP(&monitorFlag, "monitor", "m", false, "Show device output after flashing until interrupted")
	cmd.Flags().BoolVar(&noVerifyFlag, "no-verify", false, "Skip MD5 verification")
	cmd.Flags().BoolVar(&noCompressFlag, "no-compress", false, "Send images uncompressed")
	return cmd
}

func newUF2Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uf2 <image.uf2> <drive>",
		Short: "Copy a UF2 image onto a mounted bootloader drive",
		Long: `Validate a UF2 image and copy it onto the mass-storage drive that an
nRF52 or RP2040 bootloader exposes. Use 'mh-flasher touch' or 'mh-flasher
dfu' first to reboot a running board into its bootloader.`,
		Args: cobra.ExactArgs(2),
		RunE: runUF2,
	}
	return cmd
}

func runFlash(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	target, err := findTarget(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Target: %s (%s, %s)\n", target.Name(), target.PlatformioTarget, target.Architecture)

	job := flasher.Job{Kind: flasher.KindUpdate, Device: target}
	if job.Firmware, job.Upload, err = loadFirmware(target); err != nil {
		return err
	}

	scheme := cfg.Scheme
	if schemeFlag != "" {
		scheme = schemeFlag
	}
	if job.Scheme, err = layout.ParseScheme(scheme); err != nil {
		return err
	}
	switch {
	case cleanFlag:
		job.Kind = flasher.KindCleanInstall
	case job.Upload.IsFactory():
		job.Kind = flasher.KindFactory
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if target.Family() == catalog.FamilyESP32 && portFlag == "" {
		fmt.Println("Detecting device...")
		info, err := esp.Scan(ctx, portNames(), openProbePort, log)
		if err != nil {
			return fmt.Errorf("device detection failed: %w", err)
		}
		portFlag = info.Port
		fmt.Printf("Found %s on %s\n", info.Name, info.Port)
	}

	history, err := flashlog.Open(cfg.HistoryPath)
	if err != nil {
		log.Warn("flash history disabled", "error", err)
	} else {
		defer history.Close()
	}

	locator := artifact.NewLocator(artifact.NewHTTPFetcher(cfg.HTTPTimeout), log)
	d := &flasher.Dispatcher{
		Runner:      newOrchestrator(locator, log),
		Resolver:    locator,
		DownloadDir: cfg.DownloadDir,
		Logger:      log,
	}
	if history != nil {
		d.History = history
	}

	res, err := d.Flash(ctx, job)
	if err != nil {
		return describe(err)
	}

	if res.UF2Path != "" {
		fmt.Printf("\nSaved %s (%d blocks)\n", res.UF2Path, res.UF2Blocks)
		fmt.Printf("Double-press reset (or run 'mh-flasher touch -p <port>') and copy it onto the %s drive:\n", target.Name())
		fmt.Printf("  mh-flasher uf2 %s <drive>\n", res.UF2Path)
		return nil
	}
	fmt.Printf("\nDone! %s written.\n", humanize.IBytes(uint64(res.Session.BytesWritten())))
	return nil
}

func loadFirmware(target *catalog.Device) (*catalog.Firmware, *artifact.Upload, error) {
	var (
		fw  *catalog.Firmware
		up  *artifact.Upload
		err error
	)

	if fileFlag != "" {
		if up, err = artifact.LoadUpload(fileFlag); err != nil {
			return nil, nil, err
		}
		fmt.Printf("Firmware file: %s (%s)\n", up.Name, humanize.IBytes(uint64(len(up.Data))))
	}

	switch {
	case firmwareJSONFlag != "":
		fw, err = catalog.LoadFirmware(firmwareJSONFlag)
	case cfg.FirmwareIndex != "" && (up == nil || firmwareFlag != ""):
		var idx catalog.FirmwareIndex
		if idx, err = catalog.LoadFirmwareIndex(cfg.FirmwareIndex); err == nil {
			fw, err = idx.Select(target, firmwareFlag)
		}
	case up == nil:
		err = errors.New("no firmware given: use --file, --firmware-json or configure firmware_index")
	}
	if err != nil {
		return nil, nil, err
	}
	if fw != nil {
		fmt.Printf("Firmware: %s\n", fw.ID)
	}
	return fw, up, nil
}

func newOrchestrator(res flasher.Resolver, log *slog.Logger) *flasher.Orchestrator {
	size, _ := cfg.FlashSizeBytes()
	opts := []esp.Option{
		esp.WithLogger(log),
		esp.WithVerify(cfg.Verify && !noVerifyFlag),
		esp.WithCompression(cfg.Compress && !noCompressFlag),
		esp.WithFlashSize(size),
	}
	if cfg.FlashBaud > 0 {
		opts = append(opts, esp.WithBaudRate(cfg.FlashBaud))
	}

	o := &flasher.Orchestrator{
		Open: func(ctx context.Context) (flasher.Port, error) {
			p, err := serial.Open(portFlag, baudFlag)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		NewLoader: func(p esp.Port) flasher.Loader {
			return esp.NewLoader(p, opts...)
		},
		Resolver:       res,
		Supports:       layout.SupportsNew8MBTable(cfg.New8MBMinVersion),
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         log,
		OnStateChange: func(s *flasher.Session, from, to flasher.State) {
			log.Debug("session state", "from", from, "to", to)
			switch to {
			case flasher.Connecting:
				fmt.Printf("Connecting to bootloader on %s...\n", portFlag)
			case flasher.Writing:
				fmt.Println("Connected!")
			case flasher.Resetting:
				fmt.Println("Rebooting device...")
			case flasher.Streaming:
				if monitorFlag {
					fmt.Println("Device output (Ctrl-C to stop):")
				}
			}
		},
	}
	if monitorFlag {
		o.Output = os.Stdout
	}

	bar := newProgress()
	o.OnProgress = bar.update
	o.OnComplete = func() {
		bar.finish()
		fmt.Println("\nFlash complete!")
	}
	return o
}

// progress renders write progress, as a bar on terminals and as one line
// per file otherwise.
type progress struct {
	bar *progressbar.ProgressBar
	tty bool

	file    int
	done    int64
	written int
}

func newProgress() *progress {
	tty := term.IsTerminal(int(os.Stdout.Fd()))
	return &progress{
		tty:  tty,
		file: -1,
		bar: progressbar.NewOptions64(-1,
			progressbar.OptionSetDescription("Flashing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetVisibility(tty),
			progressbar.OptionClearOnFinish(),
		),
	}
}

func (p *progress) update(fileIndex, written, total int) {
	if fileIndex != p.file {
		p.done += int64(p.written)
		p.file, p.written = fileIndex, 0
		p.bar.Describe(fmt.Sprintf("Flashing file %d", fileIndex+1))
		if !p.tty {
			fmt.Printf("Writing file %d (%s)\n", fileIndex+1, humanize.IBytes(uint64(total)))
		}
	}
	p.written = written
	p.bar.Set64(p.done + int64(written))
}

func (p *progress) finish() {
	p.bar.Finish()
}

func runUF2(cmd *cobra.Command, args []string) error {
	up, err := artifact.LoadUpload(args[0])
	if err != nil {
		return err
	}
	blocks, err := artifact.ValidateUF2(up.Data)
	if err != nil {
		return err
	}
	if fi, err := os.Stat(args[1]); err != nil || !fi.IsDir() {
		return fmt.Errorf("%s is not a mounted bootloader drive", args[1])
	}

	fmt.Printf("Copying %s (%d blocks, %s) to %s...\n", up.Name, blocks, humanize.IBytes(uint64(len(up.Data))), args[1])
	path, err := artifact.SaveUF2(args[1], up.Name, up.Data)
	if err != nil {
		return err
	}
	fmt.Printf("Done! Wrote %s; the board reboots once the copy completes.\n", filepath.Base(path))
	return nil
}

func openProbePort(name string) (esp.ProbePort, error) {
	p, err := serial.Open(name, baudFlag)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func portNames() []string {
	ports, err := serial.ListPorts()
	if err != nil {
		slog.Warn("failed to list ports", "error", err)
		return nil
	}
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		if p.InUse {
			continue
		}
		names = append(names, p.Name)
	}
	return names
}

// describe adds user-facing hints to common failures.
func describe(err error) error {
	var ue *flasher.UnsupportedArchitectureError
	switch {
	case errors.Is(err, guard.ErrTimeout):
		return fmt.Errorf("%w: hold BOOT while pressing RESET, then try again", err)
	case errors.Is(err, serial.ErrPortBusy):
		return fmt.Errorf("%w: another session is using the port", err)
	case errors.As(err, &ue):
		return fmt.Errorf("%w: this board cannot be flashed here", err)
	}
	return err
}
