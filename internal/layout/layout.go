package layout

import (
	"fmt"
	"strings"
)

// Scheme selects a flash partition table variant.
type Scheme int

const (
	Default Scheme = iota
	EightMB
	SixteenMB
)

// ParseScheme parses the caller-facing names "default", "8MB" and "16MB".
// An empty string selects the default table.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "DEFAULT":
		return Default, nil
	case "8MB":
		return EightMB, nil
	case "16MB":
		return SixteenMB, nil
	default:
		return Default, fmt.Errorf("unknown partition scheme %q (want default, 8MB or 16MB)", s)
	}
}

func (s Scheme) String() string {
	switch s {
	case EightMB:
		return "8MB"
	case SixteenMB:
		return "16MB"
	default:
		return "default"
	}
}

// Fixed flash addresses.
const (
	FactoryAddress = 0x0000
	AppAddress     = 0x10000
)

// Offsets holds the OTA and filesystem partition addresses of a scheme.
type Offsets struct {
	OTA        uint32
	Filesystem uint32
}

// VersionPredicate reports whether a firmware version understands the
// newer 8MB partition table.
type VersionPredicate func(version string) bool

// Resolve maps a scheme, display capability and firmware version to
// partition offsets. It is pure and defined for every input; a nil
// predicate is treated as "not supported".
func Resolve(scheme Scheme, hasDisplay bool, version string, supports VersionPredicate) Offsets {
	switch scheme {
	case EightMB:
		if hasDisplay && supports != nil && supports(version) {
			return Offsets{OTA: 0x5D0000, Filesystem: 0x670000}
		}
		return Offsets{OTA: 0x340000, Filesystem: 0x670000}
	case SixteenMB:
		return Offsets{OTA: 0x650000, Filesystem: 0xC90000}
	default:
		return Offsets{OTA: 0x260000, Filesystem: 0x300000}
	}
}

// Placement is one image written at one flash address.
type Placement struct {
	Name    string
	Address uint32
	Data    []byte
}

// Size returns the payload length in bytes.
func (p Placement) Size() int {
	return len(p.Data)
}

// UpdatePlan writes an application update image over the app slot.
func UpdatePlan(app []byte) []Placement {
	return []Placement{{Name: "firmware", Address: AppAddress, Data: app}}
}

// FactoryPlan writes a full factory image from address zero.
func FactoryPlan(image []byte) []Placement {
	return []Placement{{Name: "factory", Address: FactoryAddress, Data: image}}
}

// CleanInstallPlan writes the factory image, the OTA loader and the
// filesystem image, in that order.
func CleanInstallPlan(off Offsets, app, ota, fs []byte) []Placement {
	return []Placement{
		{Name: "factory", Address: FactoryAddress, Data: app},
		{Name: "ota", Address: off.OTA, Data: ota},
		{Name: "littlefs", Address: off.Filesystem, Data: fs},
	}
}

// TotalSize sums the payload of every placement.
func TotalSize(plan []Placement) int {
	total := 0
	for _, p := range plan {
		total += p.Size()
	}
	return total
}
