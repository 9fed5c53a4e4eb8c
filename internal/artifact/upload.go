package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Upload is a firmware file supplied by the user instead of a release.
type Upload struct {
	Name string
	Data []byte
}

// LoadUpload reads a user-supplied firmware file or archive.
func LoadUpload(path string) (*Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read firmware file: %w", err)
	}
	return &Upload{Name: filepath.Base(path), Data: data}, nil
}

// IsArchive reports whether the upload is a zip archive.
func (u *Upload) IsArchive() bool {
	return u != nil && strings.HasSuffix(strings.ToLower(u.Name), ".zip")
}

// IsFactory reports whether the upload is a full factory image.
func (u *Upload) IsFactory() bool {
	return u != nil && strings.HasSuffix(strings.ToLower(u.Name), ".factory.bin")
}
