package resources

import (
	"strings"

	"golang.org/x/mod/semver"
)

// canonical normalizes a hub-reported version ("2.11.3") into the canonical
// semver form x/mod expects ("v2.11.3").
func canonical(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		return ""
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	return version
}

// SameMajor reports whether two hub versions share a major version. A
// mismatch across a major boundary makes backup formats incompatible.
func SameMajor(a, b string) bool {
	return semver.Major(canonical(a)) == semver.Major(canonical(b))
}

// CompareVersions orders two hub versions (-1, 0, +1).
func CompareVersions(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

// schedulePauseMinVersion is the first hub release whose backup schedule
// supports an in-place pause flag. Older hubs require deleting the schedule
// and recreating it later.
const schedulePauseMinVersion = "v2.9.0"

// SupportsSchedulePause reports whether the hub release can pause its backup
// schedule in place.
func SupportsSchedulePause(version string) bool {
	v := canonical(version)
	if !semver.IsValid(v) {
		return false
	}
	return semver.Compare(v, schedulePauseMinVersion) >= 0
}
