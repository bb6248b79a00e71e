package config

import (
	"fmt"
	"runtime"
)

// Build information.
// These variables are set at build time using ldflags.
var (
	BuildVersion   = "unknown"
	BuildTimestamp = "unknown"
)

// GetBuildInfo returns a formatted string with build details.
func GetBuildInfo() string {
	return fmt.Sprintf("xfer %s (%s) %s/%s", BuildVersion, BuildTimestamp, runtime.GOOS, runtime.GOARCH)
}

// DefaultUserAgent is sent with HTTP requests unless configured otherwise.
func DefaultUserAgent() string {
	return fmt.Sprintf("xfer/%s (%s/%s)", BuildVersion, runtime.GOOS, runtime.GOARCH)
}
