package layout

import (
	"strings"

	"golang.org/x/mod/semver"
)

// DefaultNew8MBMinVersion is the first release shipping the enlarged app
// partition for display devices on 8MB flash.
const DefaultNew8MBMinVersion = "2.7.11"

// SupportsNew8MBTable returns a predicate comparing firmware versions against
// minVersion. Versions that are not parseable never qualify.
func SupportsNew8MBTable(minVersion string) VersionPredicate {
	floor := Canonical(minVersion)
	return func(version string) bool {
		v := Canonical(version)
		if v == "" || floor == "" {
			return false
		}
		return semver.Compare(v, floor) >= 0
	}
}

// Canonical turns firmware ids like "v2.7.11.ee68575" or "2.6.4-alpha" into
// a semver string understood by x/mod/semver. It returns "" when the input
// has no usable major.minor.patch prefix.
func Canonical(version string) string {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	parts := strings.SplitN(v, ".", 4)
	if len(parts) < 3 {
		return ""
	}
	// Release builds append a commit hash as a fourth dot component.
	patch, pre, _ := strings.Cut(parts[2], "-")
	out := "v" + parts[0] + "." + parts[1] + "." + patch
	if pre != "" {
		out += "-" + pre
	}
	if !semver.IsValid(out) {
		return ""
	}
	return semver.Canonical(out)
}
