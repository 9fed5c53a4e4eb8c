package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FirmwareIndex maps a device slug to the firmware builds published for it.
type FirmwareIndex map[string][]Firmware

// LoadFirmwareIndex reads a device-to-firmware mapping file.
func LoadFirmwareIndex(path string) (FirmwareIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read firmware index: %w", err)
	}
	var idx FirmwareIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse firmware index: %w", err)
	}
	return idx, nil
}

// For returns the builds for a device, looked up by slug and then by
// platformio target.
func (idx FirmwareIndex) For(d *Device) []Firmware {
	if d == nil {
		return nil
	}
	if list := idx[d.HwModelSlug]; len(list) > 0 {
		return list
	}
	return idx[d.PlatformioTarget]
}

// Select picks a build by id. An empty id selects the first (newest) entry.
func (idx FirmwareIndex) Select(d *Device, id string) (*Firmware, error) {
	list := idx.For(d)
	if len(list) == 0 {
		return nil, fmt.Errorf("no firmware published for %s", d.Name())
	}
	if id == "" {
		return &list[0], nil
	}
	want := strings.TrimPrefix(id, "v")
	for i := range list {
		if strings.TrimPrefix(list[i].ID, "v") == want {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("firmware %s not published for %s", id, d.Name())
}
