// Package fetch saves remote files to disk. A download goes to a ".part"
// file next to its destination under the destination's lock and is renamed
// into place only after the transfer succeeded.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"xfer/pkg/transfer"
)

// PartSuffix marks an incomplete download.
const PartSuffix = ".part"

// Plan contains the paths of one download.
type Plan struct {
	// Source is the URL as given, credentials included.
	Source string
	// Name is the display name of the download, the destination's base name.
	Name string
	// Target is the URL without credentials, safe to log.
	Target string
	// Destination is the final path of the file.
	Destination string
	// PartPath receives the bytes while the transfer runs.
	PartPath string

	// Outcome is filled in by DownloadStage.
	Outcome transfer.Outcome
	// Skipped reports that Destination already existed.
	Skipped bool
}

// Stage represents a single step of a download.
type Stage func(ctx context.Context, plan *Plan) error

// NewPlan derives the destination of rawURL. output may name a file or an
// existing directory; when empty the file is placed in dir under the last
// path segment of the URL.
func NewPlan(dir, rawURL, output string) (*Plan, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: missing host", rawURL)
	}

	fileName := path.Base(u.Path)
	if fileName == "" || fileName == "." || fileName == "/" {
		fileName = strings.ReplaceAll(u.Hostname(), ".", "_") + ".bin"
	}

	var dest string
	switch {
	case output == "":
		dest = filepath.Join(dir, fileName)
	case isDir(output):
		dest = filepath.Join(output, fileName)
	default:
		dest = output
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination dir: %w", err)
	}

	return &Plan{
		Source:      rawURL,
		Name:        filepath.Base(dest),
		Target:      u.Redacted(),
		Destination: dest,
		PartPath:    dest + PartSuffix,
	}, nil
}

func isDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}
