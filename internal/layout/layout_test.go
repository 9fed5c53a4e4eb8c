package layout

import (
	"testing"
)

func always(string) bool { return true }
func never(string) bool  { return false }

func TestResolve_Table(t *testing.T) {
	tests := []struct {
		name       string
		scheme     Scheme
		hasDisplay bool
		supports   VersionPredicate
		want       Offsets
	}{
		{"default", Default, false, never, Offsets{0x260000, 0x300000}},
		{"default with display", Default, true, always, Offsets{0x260000, 0x300000}},
		{"8MB display new table", EightMB, true, always, Offsets{0x5D0000, 0x670000}},
		{"8MB display old firmware", EightMB, true, never, Offsets{0x340000, 0x670000}},
		{"8MB no display new firmware", EightMB, false, always, Offsets{0x340000, 0x670000}},
		{"8MB no display old firmware", EightMB, false, never, Offsets{0x340000, 0x670000}},
		{"8MB nil predicate", EightMB, true, nil, Offsets{0x340000, 0x670000}},
		{"16MB", SixteenMB, false, never, Offsets{0x650000, 0xC90000}},
		{"16MB with display", SixteenMB, true, always, Offsets{0x650000, 0xC90000}},
	}

	for _, tc := range tests {
		got := Resolve(tc.scheme, tc.hasDisplay, "2.7.11", tc.supports)
		if got != tc.want {
			t.Errorf("%s: Resolve() = {0x%X, 0x%X}, want {0x%X, 0x%X}",
				tc.name, got.OTA, got.Filesystem, tc.want.OTA, tc.want.Filesystem)
		}
	}
}

func TestResolve_Deterministic(t *testing.T) {
	pred := SupportsNew8MBTable(DefaultNew8MBMinVersion)
	first := Resolve(EightMB, true, "2.7.12", pred)
	for i := 0; i < 10; i++ {
		if got := Resolve(EightMB, true, "2.7.12", pred); got != first {
			t.Fatalf("Resolve() call %d = %+v, want %+v", i, got, first)
		}
	}
}

func TestResolve_EightMBWithVersionPredicate(t *testing.T) {
	pred := SupportsNew8MBTable("2.7.11")

	got := Resolve(EightMB, true, "2.7.15", pred)
	if got.OTA != 0x5D0000 || got.Filesystem != 0x670000 {
		t.Errorf("new firmware: got {0x%X, 0x%X}, want {0x5D0000, 0x670000}", got.OTA, got.Filesystem)
	}

	got = Resolve(EightMB, true, "2.6.11", pred)
	if got.OTA != 0x340000 || got.Filesystem != 0x670000 {
		t.Errorf("old firmware: got {0x%X, 0x%X}, want {0x340000, 0x670000}", got.OTA, got.Filesystem)
	}
}

func TestParseScheme(t *testing.T) {
	tests := []struct {
		in      string
		want    Scheme
		wantErr bool
	}{
		{"", Default, false},
		{"default", Default, false},
		{"8MB", EightMB, false},
		{"8mb", EightMB, false},
		{"16MB", SixteenMB, false},
		{"4MB", Default, true},
	}

	for _, tc := range tests {
		got, err := ParseScheme(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseScheme(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseScheme(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSchemeString(t *testing.T) {
	for _, s := range []Scheme{Default, EightMB, SixteenMB} {
		parsed, err := ParseScheme(s.String())
		if err != nil || parsed != s {
			t.Errorf("ParseScheme(%q) = %v, %v; want %v", s.String(), parsed, err, s)
		}
	}
}

func TestCleanInstallPlan(t *testing.T) {
	off := Offsets{OTA: 0x5D0000, Filesystem: 0x670000}
	plan := CleanInstallPlan(off, []byte{1}, []byte{2, 2}, []byte{3, 3, 3})

	if len(plan) != 3 {
		t.Fatalf("len(plan) = %d, want 3", len(plan))
	}
	wantAddr := []uint32{0x0, 0x5D0000, 0x670000}
	for i, p := range plan {
		if p.Address != wantAddr[i] {
			t.Errorf("plan[%d].Address = 0x%X, want 0x%X", i, p.Address, wantAddr[i])
		}
	}
	for i, p := range plan {
		if p.Size() != i+1 {
			t.Errorf("plan[%d].Size() = %d, want %d", i, p.Size(), i+1)
		}
	}
	if TotalSize(plan) != 6 {
		t.Errorf("TotalSize() = %d, want 6", TotalSize(plan))
	}
}

func TestUpdateAndFactoryPlan(t *testing.T) {
	if p := UpdatePlan([]byte{1}); len(p) != 1 || p[0].Address != 0x10000 {
		t.Errorf("UpdatePlan() = %+v", p)
	}
	if p := FactoryPlan([]byte{1}); len(p) != 1 || p[0].Address != 0x0 {
		t.Errorf("FactoryPlan() = %+v", p)
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2.7.11", "v2.7.11"},
		{"v2.7.11", "v2.7.11"},
		{"v2.7.11.ee68575", "v2.7.11"},
		{"2.6.4-alpha", "v2.6.4-alpha"},
		{".+", ""},
		{"2.7", ""},
		{"", ""},
		{"x.y.z", ""},
	}

	for _, tc := range tests {
		if got := Canonical(tc.in); got != tc.want {
			t.Errorf("Canonical(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSupportsNew8MBTable(t *testing.T) {
	pred := SupportsNew8MBTable("2.7.11")

	tests := []struct {
		version string
		want    bool
	}{
		{"2.7.11", true},
		{"2.7.11.ee68575", true},
		{"2.8.0", true},
		{"2.7.10", false},
		{"2.6.11.60ec05e", false},
		{".+", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := pred(tc.version); got != tc.want {
			t.Errorf("SupportsNew8MBTable(2.7.11)(%q) = %v, want %v", tc.version, got, tc.want)
		}
	}
}
