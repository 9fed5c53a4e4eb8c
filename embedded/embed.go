package embedded

import (
	_ "embed"

	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
)

//go:embed hardware-list.json
var hardwareList []byte

// HardwareList returns the built-in hardware catalog as JSON.
func HardwareList() []byte {
	return hardwareList
}

// Devices decodes the built-in hardware catalog.
func Devices() ([]catalog.Device, error) {
	return catalog.ParseDevices(hardwareList)
}
