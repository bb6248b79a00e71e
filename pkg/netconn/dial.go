// Package netconn holds the socket plumbing shared by the transfer clients:
// proxy-aware dialing bounded by a connect timeout, TLS wrapping, per-read
// idle deadlines, and a tracker that tears down every socket of a client.
package netconn

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultConnectTimeout bounds resolve + connect when no timeout is configured.
const DefaultConnectTimeout = 30 * time.Second

// Dialer opens TCP connections for a transfer client.
// Immutable
type Dialer struct {
	// Timeout bounds DNS resolution and connect. Zero selects DefaultConnectTimeout.
	Timeout time.Duration
	// Forward is the underlying dialer. Nil dials directly or through the
	// proxy named by ALL_PROXY / NO_PROXY.
	Forward proxy.ContextDialer
}

func (d Dialer) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultConnectTimeout
}

// DialContext connects to address, giving up after the connect timeout.
func (d Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	fwd := d.Forward
	if fwd == nil {
		fwd = FromEnvironment(d.timeout())
	}

	return fwd.DialContext(ctx, network, address)
}

// FromEnvironment returns a dialer honoring the ALL_PROXY and NO_PROXY
// environment variables, dialing directly otherwise.
func FromEnvironment(timeout time.Duration) proxy.ContextDialer {
	direct := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	d := proxy.FromEnvironmentUsing(direct)
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd
	}
	return contextDialer{d}
}

// contextDialer adapts a proxy.Dialer without context support.
type contextDialer struct {
	proxy.Dialer
}

func (d contextDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		c, err := d.Dial(network, address)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// PrepareTLS clones cfg for one session: ServerName defaults to host and a
// session cache is attached so data connections can resume the control
// connection's TLS session.
func PrepareTLS(cfg *tls.Config, host string) *tls.Config {
	if cfg == nil {
		return nil
	}

	c := cfg.Clone()
	if c.ServerName == "" {
		c.ServerName = host
	}
	if c.MinVersion == 0 {
		c.MinVersion = tls.VersionTLS12
	}
	if c.ClientSessionCache == nil {
		c.ClientSessionCache = tls.NewLRUClientSessionCache(8)
	}
	return c
}

// Secure runs a TLS client handshake over conn. conn is closed on failure.
func Secure(ctx context.Context, conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return tc, nil
}
