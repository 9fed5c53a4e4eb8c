package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/SMLunchen/mh-web-flasher/embedded"
	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
	"github.com/SMLunchen/mh-web-flasher/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag   string
	logLevelFlag string
	catalogFlag  string
	portFlag     string
	baudFlag     int

	cfg *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mh-flasher",
		Short: "Flash radio firmware to ESP32, nRF52 and RP2040 boards",
		Long: `mh-flasher installs mesh radio firmware on supported boards.

ESP32 boards are programmed over serial through the ROM bootloader.
nRF52 and RP2040 boards take a UF2 image, which is downloaded and then
copied onto the board's bootloader drive.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: first of /etc/mh-flasher, ~/.config/mh-flasher, ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&catalogFlag, "catalog", "", "Hardware list JSON (default: built-in)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mh-flasher %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(
		newFlashCmd(),
		newUF2Cmd(),
		newDetectCmd(),
		newDFUCmd(),
		newTouchCmd(),
		newProbeCmd(),
		newPortsCmd(),
		newTargetsCmd(),
		newLayoutCmd(),
		newHistoryCmd(),
		versionCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(configFlag)
	if err != nil {
		return err
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if catalogFlag != "" {
		cfg.Catalog = catalogFlag
	}
	if f := cmd.Flags().Lookup("port"); f != nil && !f.Changed {
		portFlag = cfg.Port
	}
	if f := cmd.Flags().Lookup("baud"); f != nil && !f.Changed {
		baudFlag = cfg.Baud
	}

	level, err := cfg.Level()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// loadDevices returns the configured hardware list.
func loadDevices() ([]catalog.Device, error) {
	if cfg.Catalog != "" {
		return catalog.LoadDevices(cfg.Catalog)
	}
	return embedded.Devices()
}

// findTarget looks up a board by slug or build target.
func findTarget(key string) (*catalog.Device, error) {
	devices, err := loadDevices()
	if err != nil {
		return nil, err
	}
	d, ok := catalog.Find(devices, key)
	if !ok {
		return nil, fmt.Errorf("unknown target %q (see 'mh-flasher targets')", key)
	}
	return d, nil
}

func addPortFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	cmd.Flags().IntVarP(&baudFlag, "baud", "b", 115200, "Baud rate")
}
