// Package version provides build metadata for the DDI device simulator.
package version

import (
	"fmt"
	"runtime"
)

// Build information, injected at build time with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("ddi-simulator %s (%s) built on %s with %s for %s",
		i.Version, i.Commit, i.Date, i.GoVersion, i.Platform)
}

// GetFullVersion returns the full version string.
func GetFullVersion() string {
	return Get().String()
}

// GetShortVersion returns just the version number.
func GetShortVersion() string {
	return Version
}

// UserAgent is sent with every request to the update server.
func UserAgent() string {
	return "ddi-simulator/" + Version
}
