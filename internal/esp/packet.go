package esp

import (
	"encoding/binary"
	"fmt"
)

// ROM bootloader commands.
const (
	CmdFlashBegin      = 0x02
	CmdFlashData       = 0x03
	CmdFlashEnd        = 0x04
	CmdSync            = 0x08
	CmdReadReg         = 0x0A
	CmdSpiSetParams    = 0x0B
	CmdSpiAttach       = 0x0D
	CmdChangeBaudrate  = 0x0F
	CmdFlashDeflBegin  = 0x10
	CmdFlashDeflData   = 0x11
	CmdFlashDeflEnd    = 0x12
	CmdSpiFlashMD5     = 0x13
	CmdGetSecurityInfo = 0x14
)

const (
	dirRequest  = 0x00
	dirResponse = 0x01

	checksumSeed = 0xEF

	// The ESP32 family ROMs append four status bytes; only the first two
	// carry meaning.
	romStatusLen = 4
)

// Flash geometry used by the ROM loader.
const (
	FlashBlockSize  = 0x400
	FlashSectorSize = 0x1000
)

// ROM error codes.
const (
	ErrInvalidMessage  = 0x05
	ErrFailedToAct     = 0x06
	ErrInvalidCRC      = 0x07
	ErrFlashWriteErr   = 0x08
	ErrFlashReadErr    = 0x09
	ErrFlashReadLenErr = 0x0A
	ErrDeflateError    = 0x0B
)

// ErrorMessage returns a human-readable ROM error.
func ErrorMessage(code byte) string {
	switch code {
	case ErrInvalidMessage:
		return "invalid message"
	case ErrFailedToAct:
		return "failed to act"
	case ErrInvalidCRC:
		return "invalid CRC"
	case ErrFlashWriteErr:
		return "flash write error"
	case ErrFlashReadErr:
		return "flash read error"
	case ErrFlashReadLenErr:
		return "flash read length error"
	case ErrDeflateError:
		return "deflate error"
	default:
		return "unknown error"
	}
}

// request is a command packet before SLIP framing.
type request struct {
	command  byte
	data     []byte
	checksum uint32
}

// encode lays out direction, command, size, checksum and payload.
func (r request) encode() []byte {
	packet := make([]byte, 8+len(r.data))
	packet[0] = dirRequest
	packet[1] = r.command
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(r.data)))
	binary.LittleEndian.PutUint32(packet[4:8], r.checksum)
	copy(packet[8:], r.data)
	return packet
}

// checksum is the XOR of the flash payload, seeded with 0xEF. Only data
// commands carry it; the ROM ignores the field otherwise.
func checksum(data []byte) uint32 {
	var c byte = checksumSeed
	for _, b := range data {
		c ^= b
	}
	return uint32(c)
}

// Response is a decoded ROM reply.
type Response struct {
	Command byte
	Value   uint32
	Data    []byte
	Status  byte
	Error   byte
}

// decodeResponse parses an unframed reply carrying statusLen trailing
// status bytes.
func decodeResponse(packet []byte, statusLen int) (*Response, error) {
	if len(packet) < 8+statusLen {
		return nil, fmt.Errorf("response too short: %d bytes", len(packet))
	}
	if packet[0] != dirResponse {
		return nil, fmt.Errorf("invalid direction byte: 0x%02X", packet[0])
	}

	size := int(binary.LittleEndian.Uint16(packet[2:4]))
	if size > len(packet)-8 {
		return nil, fmt.Errorf("data size mismatch: expected %d, have %d", size, len(packet)-8)
	}
	if size < statusLen {
		return nil, fmt.Errorf("response carries %d bytes, need %d status bytes", size, statusLen)
	}

	body := packet[8 : 8+size]
	trailer := body[size-statusLen:]
	return &Response{
		Command: packet[1],
		Value:   binary.LittleEndian.Uint32(packet[4:8]),
		Data:    body[:size-statusLen],
		Status:  trailer[0],
		Error:   trailer[1],
	}, nil
}

// OK reports whether the ROM accepted the command.
func (r *Response) OK() bool {
	return r.Status == 0
}

// CommandError is a command rejected by the ROM.
type CommandError struct {
	Command byte
	Status  byte
	Code    byte
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command 0x%02X failed: status=0x%02X error=0x%02X (%s)",
		e.Command, e.Status, e.Code, ErrorMessage(e.Code))
}

// Payload builders.

func syncPayload() []byte {
	data := make([]byte, 36)
	copy(data, []byte{0x07, 0x07, 0x12, 0x20})
	for i := 4; i < len(data); i++ {
		data[i] = 0x55
	}
	return data
}

func words(vals ...uint32) []byte {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	return data
}

// beginPayload serves FLASH_BEGIN and FLASH_DEFL_BEGIN. Chips newer than
// the original ESP32 expect an extra encryption word.
func beginPayload(size, blocks, blockSize, offset uint32, encryptWord bool) []byte {
	if encryptWord {
		return words(size, blocks, blockSize, offset, 0)
	}
	return words(size, blocks, blockSize, offset)
}

// dataPayload serves FLASH_DATA and FLASH_DEFL_DATA.
func dataPayload(block []byte, seq uint32) []byte {
	return append(words(uint32(len(block)), seq, 0, 0), block...)
}

// endPayload: 0 reboots into the application, 1 stays in the loader.
func endPayload(reboot bool) []byte {
	if reboot {
		return words(0)
	}
	return words(1)
}

func md5Payload(address, size uint32) []byte {
	return words(address, size, 0, 0)
}

func spiAttachPayload() []byte {
	return make([]byte, 8)
}

// spiParamsPayload describes the attached flash chip.
func spiParamsPayload(totalSize uint32) []byte {
	return words(0, totalSize, 64*1024, FlashSectorSize, 256, 0xFFFF)
}

func changeBaudPayload(newBaud, oldBaud uint32) []byte {
	return words(newBaud, oldBaud)
}

// padBlock fills a short final block with erased-flash bytes.
func padBlock(block []byte, size int) []byte {
	if len(block) >= size {
		return block
	}
	padded := make([]byte, size)
	copy(padded, block)
	for i := len(block); i < size; i++ {
		padded[i] = 0xFF
	}
	return padded
}

func blockCount(n, blockSize int) uint32 {
	return uint32((n + blockSize - 1) / blockSize)
}

// eraseSize rounds an image up to whole sectors.
func eraseSize(n int) uint32 {
	return blockCount(n, FlashSectorSize) * FlashSectorSize
}
