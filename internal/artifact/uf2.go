package artifact

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// UF2 block layout.
const (
	UF2BlockSize   = 512
	uf2MagicStart0 = 0x0A324655
	uf2MagicStart1 = 0x9E5D5157
	uf2MagicEnd    = 0x0AB16F30
)

// ErrInvalidUF2 is returned for images that are not made of UF2 blocks.
var ErrInvalidUF2 = errors.New("invalid UF2 image")

// ValidateUF2 checks the size and block magics of a UF2 image and returns
// the number of blocks.
func ValidateUF2(data []byte) (int, error) {
	if len(data) == 0 || len(data)%UF2BlockSize != 0 {
		return 0, fmt.Errorf("%w: size %d is not a multiple of %d", ErrInvalidUF2, len(data), UF2BlockSize)
	}
	blocks := len(data) / UF2BlockSize
	for i := 0; i < blocks; i++ {
		b := data[i*UF2BlockSize : (i+1)*UF2BlockSize]
		if binary.LittleEndian.Uint32(b[0:4]) != uf2MagicStart0 ||
			binary.LittleEndian.Uint32(b[4:8]) != uf2MagicStart1 ||
			binary.LittleEndian.Uint32(b[UF2BlockSize-4:]) != uf2MagicEnd {
			return 0, fmt.Errorf("%w: bad magic in block %d", ErrInvalidUF2, i)
		}
	}
	return blocks, nil
}

// SaveUF2 writes the image into dir and returns the file path.
func SaveUF2(dir, name string, data []byte) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	p := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", p, err)
	}
	return p, nil
}
