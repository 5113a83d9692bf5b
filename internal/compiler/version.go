package compiler

import (
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// LatestVersion is passed through normalization untouched.
const LatestVersion = "latest"

var (
	bareVersionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	coreVersionPattern = regexp.MustCompile(`^v?(\d+\.\d+\.\d+)`)
)

// NormalizeVersion applies the version-string quirks of the compiler
// release channels. Nightly builds are published as "-nightly." even
// when a toolchain reports them as "-ci.", and a bare X.Y.Z gets a "v"
// prefix.
func NormalizeVersion(version string) string {
	version = strings.TrimSpace(version)
	if version == LatestVersion {
		return version
	}
	version = strings.Replace(version, "-ci.", "-nightly.", 1)
	if bareVersionPattern.MatchString(version) {
		return "v" + version
	}
	return version
}

// CoreVersion returns the vX.Y.Z part of a compiler version, or "" when
// the string does not start with one.
func CoreVersion(version string) string {
	m := coreVersionPattern.FindStringSubmatch(version)
	if m == nil {
		return ""
	}
	return "v" + m[1]
}

// CompareCore compares the X.Y.Z parts of two compiler versions with
// semver ordering. Unparseable versions sort first.
func CompareCore(a, b string) int {
	return semver.Compare(CoreVersion(a), CoreVersion(b))
}

// NeedsIsolation reports whether a script-target compiler of this version
// keeps global state that leaks between compile calls.
func NeedsIsolation(version string) bool {
	core := CoreVersion(version)
	return core != "" && semver.Compare(core, "v0.4.0") < 0
}

// artifactVersion strips the leading "v" used by release tags.
func artifactVersion(version string) string {
	return strings.TrimPrefix(NormalizeVersion(version), "v")
}
