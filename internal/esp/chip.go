package esp

import (
	"encoding/binary"
	"fmt"
)

// Chip IDs reported by GET_SECURITY_INFO.
const (
	ChipESP32   = 0
	ChipESP32S2 = 2
	ChipESP32C3 = 5
	ChipESP32S3 = 9
	ChipESP32C2 = 12
	ChipESP32C6 = 13
	ChipESP32H2 = 16

	ChipUnknown = 0xFFFFFFFF
)

// chipMagicReg holds a per-family constant on chips whose ROM predates
// GET_SECURITY_INFO.
const chipMagicReg = 0x40001000

var chipMagics = map[uint32]uint32{
	0x00F01D83: ChipESP32,
	0x000007C6: ChipESP32S2,
	0x00000009: ChipESP32S3,
	0x6921506F: ChipESP32C3,
	0x1B31506F: ChipESP32C3,
	0x4881606F: ChipESP32C3,
	0x4361606F: ChipESP32C3,
}

// ChipName returns the marketing name of a chip ID.
func ChipName(id uint32) string {
	switch id {
	case ChipESP32:
		return "ESP32"
	case ChipESP32S2:
		return "ESP32-S2"
	case ChipESP32C3:
		return "ESP32-C3"
	case ChipESP32S3:
		return "ESP32-S3"
	case ChipESP32C2:
		return "ESP32-C2"
	case ChipESP32C6:
		return "ESP32-C6"
	case ChipESP32H2:
		return "ESP32-H2"
	default:
		return "ESP32 (unknown variant)"
	}
}

// ChipInfo identifies the chip behind a port.
type ChipInfo struct {
	Port string
	ID   uint32
	Name string
}

// SecurityInfo is the decoded GET_SECURITY_INFO reply.
type SecurityInfo struct {
	Flags         uint32
	FlashCryptCnt byte
	KeyPurposes   [7]byte
	ChipID        uint32
	EcoVersion    uint32
}

// parseSecurityInfo decodes the reply. ESP32-S2 omits the chip ID and
// eco version.
func parseSecurityInfo(data []byte) (*SecurityInfo, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("security info too short: %d bytes", len(data))
	}
	info := &SecurityInfo{
		Flags:         binary.LittleEndian.Uint32(data[0:4]),
		FlashCryptCnt: data[4],
		ChipID:        ChipESP32S2,
	}
	copy(info.KeyPurposes[:], data[5:12])
	if len(data) >= 20 {
		info.ChipID = binary.LittleEndian.Uint32(data[12:16])
		info.EcoVersion = binary.LittleEndian.Uint32(data[16:20])
	}
	return info, nil
}
