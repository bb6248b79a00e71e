package downloader

import (
	"xfer/pkg/httpclient"
	"xfer/pkg/transfer"
)

var _ Client = (*httpclient.Client)(nil)

// NewHTTPClient is the Factory for http and https requests.
func NewHTTPClient(req transfer.Request, opts Options, obs transfer.Observer) Client {
	return httpclient.New(httpclient.Options{
		ConnectTimeout: opts.ConnectTimeout,
		IOTimeout:      opts.IOTimeout,
		TLS:            req.TLS,
		UserAgent:      opts.UserAgent,
		Dialer:         opts.Dialer,
	}, obs)
}
