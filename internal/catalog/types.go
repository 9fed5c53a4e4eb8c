package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Support levels used by the hardware catalog.
const (
	SupportPrimary   = 1
	SupportSecondary = 2
	SupportCommunity = 3
)

// Device describes one hardware target from the catalog.
// Devices are loaded once and then only referenced.
type Device struct {
	HwModel           int      `json:"hwModel"`
	HwModelSlug       string   `json:"hwModelSlug"`
	PlatformioTarget  string   `json:"platformioTarget"`
	Architecture      string   `json:"architecture"`
	ActivelySupported bool     `json:"activelySupported"`
	DisplayName       string   `json:"displayName,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	SupportLevel      int      `json:"supportLevel,omitempty"`
	Images            []string `json:"images,omitempty"`
	HasMui            bool     `json:"hasMui,omitempty"`
}

// Level returns the support level, treating a missing value as community.
func (d *Device) Level() int {
	if d.SupportLevel < SupportPrimary || d.SupportLevel > SupportCommunity {
		return SupportCommunity
	}
	return d.SupportLevel
}

// Name returns the best human-readable name for the device.
func (d *Device) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	if d.HwModelSlug != "" {
		return d.HwModelSlug
	}
	return d.PlatformioTarget
}

// Family returns the flashing family of the device architecture.
func (d *Device) Family() Family {
	return FamilyOf(d.Architecture)
}

// HasTag reports whether the device carries the given tag.
func (d *Device) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ErrNoFirmwareSource is returned when a firmware descriptor has no URL of any kind.
var ErrNoFirmwareSource = errors.New("firmware has no binary, UF2 or archive URL")

// Firmware describes one firmware release or build.
type Firmware struct {
	ID        string            `json:"id"`
	Title     string            `json:"title,omitempty"`
	PageURL   string            `json:"page_url,omitempty"`
	CreatedAt string            `json:"created_at,omitempty"`
	BinURLs   map[string]string `json:"bin_urls,omitempty"`
	UF2URLs   map[string]string `json:"uf2_urls,omitempty"`
	ZipURL    string            `json:"zip_url,omitempty"`
}

// Validate checks that at least one download source is present.
func (f *Firmware) Validate() error {
	if f == nil {
		return ErrNoFirmwareSource
	}
	if nonEmpty(f.BinURLs) || nonEmpty(f.UF2URLs) || f.ZipURL != "" {
		return nil
	}
	return fmt.Errorf("firmware %q: %w", f.ID, ErrNoFirmwareSource)
}

// Version returns the release version without the leading "v".
// A nil firmware yields ".+" so that generated artifact names still match
// any version inside an uploaded archive.
func (f *Firmware) Version() string {
	if f == nil || f.ID == "" {
		return ".+"
	}
	return strings.TrimPrefix(f.ID, "v")
}

func nonEmpty(m map[string]string) bool {
	for _, v := range m {
		if v != "" {
			return true
		}
	}
	return false
}

// ParseDevices decodes a JSON hardware list.
func ParseDevices(data []byte) ([]Device, error) {
	var devices []Device
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("failed to parse hardware list: %w", err)
	}
	return devices, nil
}

// LoadDevices reads a JSON hardware list from disk.
func LoadDevices(path string) ([]Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hardware list: %w", err)
	}
	return ParseDevices(data)
}

// LoadFirmware reads a single firmware descriptor from disk.
func LoadFirmware(path string) (*Firmware, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read firmware descriptor: %w", err)
	}
	var fw Firmware
	if err := json.Unmarshal(data, &fw); err != nil {
		return nil, fmt.Errorf("failed to parse firmware descriptor: %w", err)
	}
	if err := fw.Validate(); err != nil {
		return nil, err
	}
	return &fw, nil
}
