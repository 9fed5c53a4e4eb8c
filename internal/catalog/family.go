package catalog

import "strings"

// Family groups architectures by how they are programmed.
type Family int

const (
	FamilyUnknown Family = iota
	// FamilyESP32 chips are programmed over serial through the ROM bootloader.
	FamilyESP32
	// FamilyNRF52 chips take a UF2 image on their mass-storage bootloader.
	FamilyNRF52
	// FamilyRP2040 chips take a UF2 image on their mass-storage bootloader.
	FamilyRP2040
)

// FamilyOf classifies an architecture string such as "esp32-s3" or "nrf52840".
func FamilyOf(arch string) Family {
	a := strings.ToLower(arch)
	switch {
	case strings.HasPrefix(a, "esp32"):
		return FamilyESP32
	case strings.HasPrefix(a, "nrf52"):
		return FamilyNRF52
	case strings.HasPrefix(a, "rp2040"):
		return FamilyRP2040
	default:
		return FamilyUnknown
	}
}

// UsesUF2 reports whether the family is flashed by copying a UF2 image.
func (f Family) UsesUF2() bool {
	return f == FamilyNRF52 || f == FamilyRP2040
}

func (f Family) String() string {
	switch f {
	case FamilyESP32:
		return "esp32"
	case FamilyNRF52:
		return "nrf52"
	case FamilyRP2040:
		return "rp2040"
	default:
		return "unknown"
	}
}

// IsNRF reports whether the architecture belongs to the nRF line.
// The auto detector uses this wider prefix check to decide on DFU mode.
func IsNRF(arch string) bool {
	return strings.HasPrefix(strings.ToLower(arch), "nrf")
}
