package compiler

import (
	"fmt"
	"runtime"
)

// Platform is a compiler release channel directory.
type Platform string

// Native platforms published by the Solidity binaries host, and the
// portable script target used everywhere else.
const (
	PlatformLinuxAmd64   Platform = "linux-amd64"
	PlatformMacOSAmd64   Platform = "macosx-amd64"
	PlatformWindowsAmd64 Platform = "windows-amd64"
	PlatformScript       Platform = "bin"
)

type osArch struct {
	goos   string
	goarch string
}

var nativePlatforms = map[osArch]Platform{
	{"linux", "amd64"}:   PlatformLinuxAmd64,
	{"darwin", "amd64"}:  PlatformMacOSAmd64,
	{"windows", "amd64"}: PlatformWindowsAmd64,
}

// ResolvePlatform maps an OS/architecture pair to a native platform.
// Callers fall back to PlatformScript on ErrUnsupportedPlatform.
func ResolvePlatform(goos, goarch string) (Platform, error) {
	p, ok := nativePlatforms[osArch{goos, goarch}]
	if !ok {
		return PlatformScript, fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	return p, nil
}

// CurrentPlatform resolves the platform of the running process.
func CurrentPlatform() (Platform, error) {
	return ResolvePlatform(runtime.GOOS, runtime.GOARCH)
}

// IsNative reports whether p names a native binary channel.
func (p Platform) IsNative() bool {
	return p != PlatformScript && p != ""
}

// solcFileName is the release artifact name of a native solc build.
func solcFileName(p Platform, version string) string {
	name := fmt.Sprintf("solc-%s-v%s", p, artifactVersion(version))
	if p == PlatformWindowsAmd64 {
		name += ".exe"
	}
	return name
}

// soljsonFileName is the release artifact name of a script-target build.
func soljsonFileName(version string) string {
	return fmt.Sprintf("soljson-v%s.js", artifactVersion(version))
}

// vyperPlatform maps a native platform to the suffix vyper releases use.
func vyperPlatform(p Platform) (string, bool) {
	switch p {
	case PlatformLinuxAmd64:
		return "linux", true
	case PlatformMacOSAmd64:
		return "darwin", true
	case PlatformWindowsAmd64:
		return "windows.exe", true
	default:
		return "", false
	}
}

// vyperFileName is the release artifact name of a vyper build.
func vyperFileName(p Platform, version string) (string, bool) {
	suffix, ok := vyperPlatform(p)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("vyper.%s.%s", artifactVersion(version), suffix), true
}
