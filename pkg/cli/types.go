package cli

import (
	"crypto/tls"
	"io"

	"xfer/pkg/config"
	"xfer/pkg/display"
	"xfer/pkg/downloader"
)

// ExecutionResult is what a command hands back to main.
type ExecutionResult struct {
	ExitCode int
}

// Managers bundles the services a command runs with. They are built once
// the global flags are parsed.
// Mutable
type Managers struct {
	Cfg       *config.Config
	Disp      display.Display
	Downloads *downloader.Manager
	// TLS is the base configuration of https and ftps requests.
	TLS *tls.Config
}

// streams are the writers of one invocation.
// Immutable
type streams struct {
	// out receives primary output: tables, versions.
	out io.Writer
	// err receives progress and logs.
	err io.Writer
}
