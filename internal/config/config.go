package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/SMLunchen/mh-web-flasher/internal/layout"
)

type Config struct {
	// Serial port; empty means probe every port.
	Port      string `yaml:"port,omitempty"`
	Baud      int    `yaml:"baud"`
	FlashBaud int    `yaml:"flash_baud,omitempty"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	DetectTimeout  time.Duration `yaml:"detect_timeout"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`

	// Hardware list; empty uses the built-in catalog.
	Catalog       string `yaml:"catalog,omitempty"`
	FirmwareIndex string `yaml:"firmware_index,omitempty"`
	VendorTag     string `yaml:"vendor_tag,omitempty"`

	DownloadDir string `yaml:"download_dir"`
	HistoryPath string `yaml:"history_path"`

	Verify   bool   `yaml:"verify"`
	Compress bool   `yaml:"compress"`
	Scheme   string `yaml:"partition_scheme"`

	// FlashSize is a human size such as "8MB"; empty keeps the chip default.
	FlashSize        string `yaml:"flash_size,omitempty"`
	New8MBMinVersion string `yaml:"new_8mb_min_version"`

	LogLevel string `yaml:"log_level"`
}

// defaultConfig provides baseline settings for a file-less run.
var defaultConfig = Config{
	Baud:             115200,
	ConnectTimeout:   30 * time.Second,
	DetectTimeout:    5 * time.Second,
	HTTPTimeout:      2 * time.Minute,
	DownloadDir:      ".",
	HistoryPath:      filepath.Join(os.Getenv("HOME"), ".local/state/mh-flasher/history.cbor"),
	Verify:           true,
	Compress:         true,
	Scheme:           "default",
	New8MBMinVersion: layout.DefaultNew8MBMinVersion,
	LogLevel:         "info",
}

// Default returns the built-in settings.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// Load reads the config at path, or the first existing default location
// when path is empty. Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		candidates := []string{
			"/etc/mh-flasher/config.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/mh-flasher/config.yaml"),
			"config.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Apply defaults for zeroed values
	if cfg.Baud <= 0 {
		cfg.Baud = defaultConfig.Baud
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConfig.ConnectTimeout
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = defaultConfig.DetectTimeout
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultConfig.HTTPTimeout
	}
	if cfg.Scheme == "" {
		cfg.Scheme = defaultConfig.Scheme
	}
	if cfg.New8MBMinVersion == "" {
		cfg.New8MBMinVersion = defaultConfig.New8MBMinVersion
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that are parsed lazily.
func (c *Config) Validate() error {
	if _, err := c.PartitionScheme(); err != nil {
		return err
	}
	if _, err := c.FlashSizeBytes(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if layout.Canonical(c.New8MBMinVersion) == "" {
		return fmt.Errorf("new_8mb_min_version %q is not a version", c.New8MBMinVersion)
	}
	return nil
}

// PartitionScheme parses the configured scheme.
func (c *Config) PartitionScheme() (layout.Scheme, error) {
	return layout.ParseScheme(c.Scheme)
}

// FlashSizeBytes returns the configured flash size, or 0 when unset.
// Flash chips come in binary sizes, so "8MB" is read as 8 MiB.
func (c *Config) FlashSizeBytes() (uint32, error) {
	if c.FlashSize == "" {
		return 0, nil
	}
	s := strings.TrimSpace(c.FlashSize)
	if u := strings.ToUpper(s); strings.HasSuffix(u, "MB") && !strings.HasSuffix(u, "IB") {
		s = s[:len(s)-2] + "MiB"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("flash_size: %w", err)
	}
	if n > 1<<32-1 {
		return 0, fmt.Errorf("flash_size %s is too large", c.FlashSize)
	}
	return uint32(n), nil
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}
