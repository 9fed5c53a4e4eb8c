package artifact

import (
	"strings"

	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
)

// FileNames are the logical artifact names of one build for one target.
// When the firmware version is unknown the names carry a ".+" wildcard and
// are matched as patterns against archive members.
type FileNames struct {
	Update     string
	Factory    string
	OTA        string
	Filesystem string
	UF2        string
}

// Names builds the release file names for a target and firmware.
func Names(d *catalog.Device, fw *catalog.Firmware) FileNames {
	target := d.PlatformioTarget
	ver := fw.Version()
	return FileNames{
		Update:     "firmware-" + target + "-" + ver + "-update.bin",
		Factory:    "firmware-" + target + "-" + ver + ".factory.bin",
		OTA:        otaName(d.Architecture),
		Filesystem: "littlefs-" + target + "-" + ver + ".bin",
		UF2:        "firmware-" + target + "-" + ver + ".uf2",
	}
}

// otaName picks the BLE OTA loader built for the chip variant.
func otaName(arch string) string {
	a := strings.ToLower(arch)
	switch {
	case strings.Contains(a, "s3"):
		return "bleota-s3.bin"
	case strings.Contains(a, "c3"):
		return "bleota-c3.bin"
	default:
		return "bleota.bin"
	}
}
