package artifact

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
)

// buildZip creates an in-memory archive whose members contain their own name.
func buildZip(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatalf("Create(%q) error = %v", n, err)
		}
		if strings.HasSuffix(n, "/") {
			continue
		}
		if _, err := w.Write([]byte(n)); err != nil {
			t.Fatalf("Write(%q) error = %v", n, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return buf.Bytes()
}

func matchName(t *testing.T, archive []byte, name string) (string, error) {
	t.Helper()
	entries, err := Entries(archive)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	e, err := Match(entries, name)
	if err != nil {
		return "", err
	}
	data, err := e.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return string(data), nil
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want Role
	}{
		{"firmware-tbeam-2.5.0-update.bin", RoleUpdate},
		{"firmware-tbeam-2.5.0.factory.bin", RoleFactory},
		{"bleota.bin", RoleOTA},
		{"bleota-s3.bin", RoleOTA},
		{"bleota-c3.bin", RoleOTA},
		{"firmware-2.5.0/bleota-c3.bin", RoleOTA},
		{"littlefs-tbeam-2.5.0.bin", RoleFilesystem},
		{"filesystem.bin", RoleFilesystem},
		{"firmware-rak4631-2.5.0.uf2", RoleNone},
		{"FIRMWARE-X-UPDATE.BIN", RoleUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.name); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestClassifyGeneratedNames(t *testing.T) {
	firmwares := []*catalog.Firmware{{ID: "v2.5.0.abc123"}, nil}
	for _, arch := range []string{"esp32", "esp32-s3", "esp32-c3", "esp32-c6", "nrf52840", "rp2040"} {
		for _, fw := range firmwares {
			names := Names(&catalog.Device{PlatformioTarget: "board", Architecture: arch}, fw)
			want := map[string]Role{
				names.Update:     RoleUpdate,
				names.Factory:    RoleFactory,
				names.OTA:        RoleOTA,
				names.Filesystem: RoleFilesystem,
				names.UF2:        RoleNone,
			}
			for name, role := range want {
				if got := Classify(name); got != role {
					t.Errorf("%s: Classify(%q) = %v, want %v", arch, name, got, role)
				}
			}
		}
	}
}

func TestRoleKey(t *testing.T) {
	keys := map[Role]string{
		RoleUpdate:     "update",
		RoleFactory:    "factory",
		RoleOTA:        "ota",
		RoleFilesystem: "littlefs",
		RoleNone:       "",
	}
	for r, want := range keys {
		if got := r.Key(); got != want {
			t.Errorf("%v.Key() = %q, want %q", r, got, want)
		}
	}
}

func TestMatch_UpdateFactoryDisambiguation(t *testing.T) {
	archive := buildZip(t, "firmware-x-update.bin", "firmware-x.factory.bin")

	got, err := matchName(t, archive, "firmware-x-update.bin")
	if err != nil {
		t.Fatalf("Match(update) error = %v", err)
	}
	if got != "firmware-x-update.bin" {
		t.Errorf("Match(update) = %q, want firmware-x-update.bin", got)
	}

	got, err = matchName(t, archive, "firmware-x.factory.bin")
	if err != nil {
		t.Fatalf("Match(factory) error = %v", err)
	}
	if got != "firmware-x.factory.bin" {
		t.Errorf("Match(factory) = %q, want firmware-x.factory.bin", got)
	}
}

func TestMatch_UpdateSuffixParity(t *testing.T) {
	// The bare prefix matches both members as a pattern; only the one
	// without the update.bin suffix has the same parity as the request.
	archive := buildZip(t,
		"firmware-2.5.0/firmware-tbeam-2.5.0-update.bin",
		"firmware-2.5.0/firmware-tbeam-2.5.0.factory.bin",
	)

	got, err := matchName(t, archive, "firmware-tbeam-2.5.0")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got != "firmware-2.5.0/firmware-tbeam-2.5.0.factory.bin" {
		t.Errorf("Match() = %q, want the factory image", got)
	}
}

func TestMatch_WildcardVersion(t *testing.T) {
	archive := buildZip(t,
		"firmware-tbeam-2.5.0-update.bin",
		"firmware-tbeam-2.5.0.factory.bin",
		"firmware-tbeam-s3-core-2.5.0-update.bin",
		"firmware-tbeam-s3-core-2.5.0.factory.bin",
		"littlefs-tbeam-2.5.0.bin",
		"bleota.bin",
	)
	names := Names(&catalog.Device{PlatformioTarget: "tbeam", Architecture: "esp32"}, nil)

	tests := []struct {
		name string
		want string
	}{
		{names.Update, "firmware-tbeam-2.5.0-update.bin"},
		{names.Factory, "firmware-tbeam-2.5.0.factory.bin"},
		{names.Filesystem, "littlefs-tbeam-2.5.0.bin"},
		{names.OTA, "bleota.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := matchName(t, archive, tt.name)
			if err != nil {
				t.Fatalf("Match(%q) error = %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestMatch_VariantMarkerKeptWhenRequested(t *testing.T) {
	archive := buildZip(t,
		"firmware-tbeam-2.5.0-update.bin",
		"firmware-tbeam-s3-core-2.5.0-update.bin",
	)

	got, err := matchName(t, archive, "firmware-tbeam-s3-core-.+-update.bin")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got != "firmware-tbeam-s3-core-2.5.0-update.bin" {
		t.Errorf("Match() = %q, want the s3 image", got)
	}
}

func TestMatch_Ambiguous(t *testing.T) {
	archive := buildZip(t,
		"firmware-heltec-v3-2.4.0.factory.bin",
		"firmware-heltec-v3-2.5.0.factory.bin",
	)

	_, err := matchName(t, archive, "firmware-heltec-v3-.+.factory.bin")
	if err == nil {
		t.Fatal("Match() error = nil, want ambiguity error")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Match() error = %T, want *NotFoundError", err)
	}
	if !nf.Ambiguous() || len(nf.Candidates) != 2 {
		t.Errorf("Candidates = %v, want two", nf.Candidates)
	}
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Error("ambiguity error should match ErrArtifactNotFound")
	}
}

func TestMatch_NotFound(t *testing.T) {
	archive := buildZip(t, "firmware-tbeam-2.5.0-update.bin")

	_, err := matchName(t, archive, "littlefs-tbeam-.+.bin")
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("Match() error = %v, want ErrArtifactNotFound", err)
	}
}

func TestMatch_InvalidPatternIsLiteral(t *testing.T) {
	archive := buildZip(t, "odd[name.bin")

	got, err := matchName(t, archive, "odd[name")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got != "odd[name.bin" {
		t.Errorf("Match() = %q", got)
	}
}

func TestEntries_NotAnArchive(t *testing.T) {
	if _, err := Entries([]byte("plain bytes")); err == nil {
		t.Error("Entries() error = nil for non-zip data")
	}
}

func TestEntries_SkipsDirectories(t *testing.T) {
	archive := buildZip(t, "dir/", "dir/a.bin")
	entries, err := Entries(archive)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "dir/a.bin" {
		t.Errorf("Entries() = %v, want only dir/a.bin", entries)
	}
}

func TestNames(t *testing.T) {
	fw := &catalog.Firmware{ID: "v2.5.0"}

	tests := []struct {
		arch    string
		wantOTA string
	}{
		{"esp32", "bleota.bin"},
		{"esp32-s3", "bleota-s3.bin"},
		{"esp32-c3", "bleota-c3.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.arch, func(t *testing.T) {
			n := Names(&catalog.Device{PlatformioTarget: "heltec-v3", Architecture: tt.arch}, fw)
			if n.Update != "firmware-heltec-v3-2.5.0-update.bin" {
				t.Errorf("Update = %q", n.Update)
			}
			if n.Factory != "firmware-heltec-v3-2.5.0.factory.bin" {
				t.Errorf("Factory = %q", n.Factory)
			}
			if n.Filesystem != "littlefs-heltec-v3-2.5.0.bin" {
				t.Errorf("Filesystem = %q", n.Filesystem)
			}
			if n.UF2 != "firmware-heltec-v3-2.5.0.uf2" {
				t.Errorf("UF2 = %q", n.UF2)
			}
			if n.OTA != tt.wantOTA {
				t.Errorf("OTA = %q, want %q", n.OTA, tt.wantOTA)
			}
		})
	}
}

func uf2Image(blocks int) []byte {
	data := make([]byte, blocks*UF2BlockSize)
	for i := 0; i < blocks; i++ {
		b := data[i*UF2BlockSize:]
		binary.LittleEndian.PutUint32(b[0:4], uf2MagicStart0)
		binary.LittleEndian.PutUint32(b[4:8], uf2MagicStart1)
		binary.LittleEndian.PutUint32(b[UF2BlockSize-4:UF2BlockSize], uf2MagicEnd)
	}
	return data
}

func TestValidateUF2(t *testing.T) {
	n, err := ValidateUF2(uf2Image(3))
	if err != nil {
		t.Fatalf("ValidateUF2() error = %v", err)
	}
	if n != 3 {
		t.Errorf("ValidateUF2() = %d blocks, want 3", n)
	}

	bad := uf2Image(2)
	bad[UF2BlockSize] = 0
	if _, err := ValidateUF2(bad); !errors.Is(err, ErrInvalidUF2) {
		t.Errorf("ValidateUF2(bad magic) error = %v, want ErrInvalidUF2", err)
	}

	if _, err := ValidateUF2(make([]byte, 100)); !errors.Is(err, ErrInvalidUF2) {
		t.Errorf("ValidateUF2(short) error = %v, want ErrInvalidUF2", err)
	}
	if _, err := ValidateUF2(nil); !errors.Is(err, ErrInvalidUF2) {
		t.Errorf("ValidateUF2(nil) error = %v, want ErrInvalidUF2", err)
	}
}
