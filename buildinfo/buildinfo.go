// Package buildinfo holds release metadata stamped in with ldflags:
//
//	go build -ldflags "\
//	  -X github.com/dotside-studios/seatlink-agent/buildinfo.Version=0.3.0 \
//	  -X github.com/dotside-studios/seatlink-agent/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Name is used for the data directory, the HTTP Server header and logs.
	Name = "seatlink-agent"

	// DisplayName is advertised over mDNS.
	DisplayName = "Seatlink Agent"

	Description = "Resolves the diner's table from nearby NFC tags and BLE beacons"

	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// FullVersion is Version with the commit appended when known.
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// UserAgent returns "seatlink-agent/<version>".
func UserAgent() string {
	return Name + "/" + Version
}

// BuildInfo returns the multi-line text printed by -version.
func BuildInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&b, "  %s\n", Description)
	fmt.Fprintf(&b, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&b, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&b, "\n  Built: %s", BuildTime)
	}
	return b.String()
}

// IsDev reports whether the binary was built without a release version.
func IsDev() bool {
	return Version == "dev"
}
