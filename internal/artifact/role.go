package artifact

import (
	"path"
	"strings"
)

// Role is the logical slot a firmware file fills.
type Role int

const (
	RoleNone Role = iota
	RoleUpdate
	RoleFactory
	RoleOTA
	RoleFilesystem
)

// Classify derives the role of a logical file name. The checks run in a
// fixed order because names of different roles share long prefixes.
func Classify(name string) Role {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "update.bin"):
		return RoleUpdate
	case strings.Contains(n, "factory.bin"):
		return RoleFactory
	case strings.Contains(n, "ota.bin"), strings.HasPrefix(path.Base(n), "bleota") && strings.HasSuffix(n, ".bin"):
		return RoleOTA
	case strings.Contains(n, "littlefs"), strings.Contains(n, "filesystem"):
		return RoleFilesystem
	default:
		return RoleNone
	}
}

// Key returns the bin_urls key holding URLs for the role.
func (r Role) Key() string {
	switch r {
	case RoleUpdate:
		return "update"
	case RoleFactory:
		return "factory"
	case RoleOTA:
		return "ota"
	case RoleFilesystem:
		return "littlefs"
	default:
		return ""
	}
}

func (r Role) String() string {
	if k := r.Key(); k != "" {
		return k
	}
	return "none"
}

// IsUF2 reports whether name denotes a UF2 image.
func IsUF2(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".uf2")
}

// isUpdateBin is the suffix test used to keep update and factory images
// apart inside archives.
func isUpdateBin(name string) bool {
	return strings.HasSuffix(name, "update.bin")
}
