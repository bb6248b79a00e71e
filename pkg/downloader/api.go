// Package downloader runs transfer requests. It picks a protocol client for
// the request's scheme, drives it through connect, login and the requested
// operation on its own goroutine, and publishes progress, listing entries
// and the final outcome on the request's event channel.
package downloader

import (
	"context"
	"io"
	"time"

	"github.com/rcrowley/go-metrics"
	"golang.org/x/net/proxy"

	"xfer/pkg/ftpclient"
	"xfer/pkg/transfer"
)

// Client is the capability set shared by the protocol clients.
// Progress and entries go to the observer the client was created with;
// the outcome is the return value of Get or List.
type Client interface {
	// Connect establishes the transport connection. A zero port selects the default.
	Connect(ctx context.Context, host string, port int) error
	// Login authenticates. FTP logs in anonymously when user is empty.
	Login(ctx context.Context, user, password string) error
	// Get streams the resource at path into w.
	Get(ctx context.Context, path string, w io.Writer) (transfer.Result, error)
	// List enumerates the directory at path.
	List(ctx context.Context, path string) (transfer.Result, error)
	// Close releases every connection. Idempotent and safe from any goroutine.
	io.Closer
}

// Factory creates the client serving one request.
type Factory func(req transfer.Request, opts Options, obs transfer.Observer) Client

// Options configure a Manager and the clients it creates.
type Options struct {
	// ConnectTimeout bounds resolve + connect. Zero selects 30s.
	ConnectTimeout time.Duration
	// IOTimeout fails a stalled read. Zero disables it.
	IOTimeout time.Duration
	// UserAgent is sent with HTTP requests.
	UserAgent string
	// EventBuffer is the capacity of each request's event channel.
	EventBuffer int
	// FTPType is the representation type of FTP retrievals.
	FTPType ftpclient.TransferType
	// Dialer overrides the proxy-aware default dialer.
	Dialer proxy.ContextDialer
	// Registry receives the transfer metrics. Nil creates a private one.
	Registry metrics.Registry
}
