package downloader

import (
	"xfer/pkg/ftpclient"
	"xfer/pkg/transfer"
)

var _ Client = (*ftpclient.Client)(nil)

// NewFTPClient is the Factory for ftp and implicit ftps requests.
func NewFTPClient(req transfer.Request, opts Options, obs transfer.Observer) Client {
	return ftpclient.New(ftpclient.Options{
		ConnectTimeout: opts.ConnectTimeout,
		IOTimeout:      opts.IOTimeout,
		TLS:            req.TLS,
		Dialer:         opts.Dialer,
		Type:           opts.FTPType,
	}, obs)
}
