package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
	"github.com/SMLunchen/mh-web-flasher/internal/flashlog"
	"github.com/SMLunchen/mh-web-flasher/internal/layout"
)

var (
	tagFlag     string
	allFlag     bool
	versionFlag string
	hasMuiFlag  bool
	sinceFlag   time.Duration
)

func newTargetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List supported boards",
		RunE:  runTargets,
	}
	cmd.Flags().StringVar(&tagFlag, "tag", "", "Only boards with this tag or architecture")
	cmd.Flags().BoolVar(&allFlag, "all", false, "Include boards that are no longer actively supported")
	return cmd
}

func newLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout [target]",
		Short: "Show where a clean install places each image",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLayout,
	}
	cmd.Flags().StringVar(&schemeFlag, "scheme", "", "Partition scheme: default, 8MB or 16MB")
	cmd.Flags().StringVar(&versionFlag, "firmware-version", "", "Firmware version to plan for")
	cmd.Flags().BoolVar(&hasMuiFlag, "display", false, "Assume a display build when no target is given")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show completed flashes",
		RunE:  runHistory,
	}
	cmd.Flags().StringVarP(&targetFlag, "target", "t", "", "Only flashes of this board")
	cmd.Flags().DurationVar(&sinceFlag, "since", 0, "Only flashes within this duration (e.g. 72h)")
	return cmd
}

func runTargets(cmd *cobra.Command, args []string) error {
	devices, err := loadDevices()
	if err != nil {
		return err
	}
	if !allFlag {
		devices = catalog.Active(devices, cfg.VendorTag)
	}
	devices = catalog.Sorted(catalog.Filter(devices, tagFlag))

	if len(devices) == 0 {
		fmt.Println("No matching boards")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tNAME\tARCH\tSUPPORT\tTAGS")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.PlatformioTarget, d.Name(), d.Architecture, d.Level(), strings.Join(d.Tags, ","))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nTags: %s\n", strings.Join(catalog.Tags(devices), ", "))
	fmt.Printf("Architectures: %s\n", strings.Join(catalog.Architectures(devices), ", "))
	return nil
}

func runLayout(cmd *cobra.Command, args []string) error {
	scheme := cfg.Scheme
	if schemeFlag != "" {
		scheme = schemeFlag
	}
	s, err := layout.ParseScheme(scheme)
	if err != nil {
		return err
	}

	hasDisplay := hasMuiFlag
	if len(args) == 1 {
		d, err := findTarget(args[0])
		if err != nil {
			return err
		}
		if d.Family() != catalog.FamilyESP32 {
			return fmt.Errorf("%s is flashed with a UF2 image and has no partition layout", d.PlatformioTarget)
		}
		hasDisplay = d.HasMui
		fmt.Printf("Target: %s\n", d.Name())
	}

	off := layout.Resolve(s, hasDisplay, versionFlag, layout.SupportsNew8MBTable(cfg.New8MBMinVersion))
	fmt.Printf("Scheme: %s\n", s)
	fmt.Printf("  factory   0x%06X\n", layout.FactoryAddress)
	fmt.Printf("  update    0x%06X\n", layout.AppAddress)
	fmt.Printf("  ota       0x%06X\n", off.OTA)
	fmt.Printf("  littlefs  0x%06X\n", off.Filesystem)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	filter := flashlog.Filter{Target: targetFlag}
	if sinceFlag > 0 {
		filter.Since = time.Now().Add(-sinceFlag)
	}

	records, err := flashlog.ReadAll(cfg.HistoryPath, filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No flashes recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tHARDWARE\tTARGET\tFIRMWARE\tMODE")
	for _, r := range records {
		mode := "update"
		if r.CleanInstall {
			mode = "clean (" + r.Scheme + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", humanize.Time(r.Timestamp), r.Hardware, r.Target, r.Firmware, mode)
	}
	return w.Flush()
}
