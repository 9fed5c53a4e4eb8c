package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
	"github.com/SMLunchen/mh-web-flasher/internal/detect"
	"github.com/SMLunchen/mh-web-flasher/internal/esp"
	"github.com/SMLunchen/mh-web-flasher/internal/serial"
)

var targetFlag string

func newDetectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Identify a running board from its serial console",
		Long: `Connect to a board running mesh firmware, read the hardware model it
reports and look it up in the catalog. nRF52 boards are switched into DFU
mode so a UF2 image can be copied right away.`,
		RunE: runDetect,
	}
	addPortFlags(cmd)
	cmd.Flags().StringVarP(&targetFlag, "target", "t", "", "Target to keep if the board does not answer")
	return cmd
}

func newDFUCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dfu",
		Short: "Reboot a running board into its DFU bootloader",
		RunE:  runDFU,
	}
	addPortFlags(cmd)
	return cmd
}

func newTouchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "touch",
		Short: "Open the port at 1200 baud to enter the UF2 bootloader",
		RunE: func(cmd *cobra.Command, args []string) error {
			if portFlag == "" {
				return errors.New("--port is required")
			}
			if err := serial.Touch1200(portFlag); err != nil {
				return err
			}
			fmt.Printf("Sent 1200 baud touch to %s\n", portFlag)
			return nil
		},
	}
	addPortFlags(cmd)
	return cmd
}

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Identify an ESP32 chip through its ROM bootloader",
		Long:  "Reset the chip into its ROM bootloader and report the chip model. The flash is not touched.",
		RunE:  runProbe,
	}
	addPortFlags(cmd)
	return cmd
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List available serial ports",
		RunE:  runPorts,
	}
}

func newDetector() (*detect.Detector, error) {
	if portFlag == "" {
		return nil, errors.New("--port is required")
	}
	devices, err := loadDevices()
	if err != nil {
		return nil, err
	}
	return &detect.Detector{
		Open: func(ctx context.Context) (detect.Link, error) {
			p, err := serial.Open(portFlag, baudFlag)
			if err != nil {
				return nil, err
			}
			return detect.NewStreamLink(p, slog.Default()), nil
		},
		Devices: devices,
	}, nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	d, err := newDetector()
	if err != nil {
		return err
	}

	var pre *catalog.Device
	if targetFlag != "" {
		if pre, err = findTarget(targetFlag); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Asking the device on %s to identify itself...\n", portFlag)
	dev, err := d.Detect(ctx, cfg.DetectTimeout, pre)
	if err != nil {
		var ue *detect.UnknownDeviceError
		if errors.As(err, &ue) {
			return fmt.Errorf("%w: not in the hardware catalog", err)
		}
		return describe(err)
	}

	fmt.Printf("  Target:       %s\n", dev.PlatformioTarget)
	fmt.Printf("  Name:         %s\n", dev.Name())
	fmt.Printf("  Architecture: %s\n", dev.Architecture)
	if catalog.IsNRF(dev.Architecture) {
		fmt.Println("  The board was asked to enter DFU mode.")
		if catalog.IsSoftDevice73(dev) {
			fmt.Println("  This board ships soft device 7.3; use its matching bootloader build.")
		}
	}
	return nil
}

func runDFU(cmd *cobra.Command, args []string) error {
	d, err := newDetector()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := d.EnterDFU(ctx, cfg.DetectTimeout); err != nil {
		return fmt.Errorf("failed to enter DFU mode: %w", describe(err))
	}
	fmt.Println("Device entered DFU mode")
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	names := []string{portFlag}
	if portFlag == "" {
		fmt.Println("Scanning for ESP32 devices...")
		names = portNames()
	}
	info, err := esp.Scan(ctx, names, openProbePort, slog.Default())
	if err != nil {
		return err
	}

	fmt.Printf("  Port:     %s\n", info.Port)
	fmt.Printf("  Chip:     %s\n", info.Name)
	if info.ID != esp.ChipUnknown {
		fmt.Printf("  Chip ID:  0x%02X\n", info.ID)
	}
	return nil
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		note := ""
		if p.InUse {
			note = " (in use)"
		}
		if p.IsUSB {
			fmt.Printf("  %-20s %s:%s %s%s\n", p.Name, p.VID, p.PID, p.Product, note)
			continue
		}
		fmt.Printf("  %s%s\n", p.Name, note)
	}
	return nil
}
