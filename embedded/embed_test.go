package embedded

import (
	"testing"

	"github.com/SMLunchen/mh-web-flasher/internal/catalog"
)

func TestDevices(t *testing.T) {
	devices, err := Devices()
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) == 0 {
		t.Fatal("built-in catalog is empty")
	}

	seen := map[string]bool{}
	for _, d := range devices {
		if d.PlatformioTarget == "" {
			t.Errorf("device %q has no platformio target", d.HwModelSlug)
		}
		if seen[d.PlatformioTarget] {
			t.Errorf("duplicate target %q", d.PlatformioTarget)
		}
		seen[d.PlatformioTarget] = true
		if d.Family() == catalog.FamilyUnknown {
			t.Errorf("device %q has unflashable architecture %q", d.PlatformioTarget, d.Architecture)
		}
	}

	if _, ok := catalog.Find(devices, "rak4631"); !ok {
		t.Error("rak4631 missing from built-in catalog")
	}
}
