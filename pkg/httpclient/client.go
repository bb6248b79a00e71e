// Package httpclient performs HTTP/1.x GET requests over a connection it
// owns, following a bounded number of redirects and streaming the body into
// a caller-supplied sink while reporting progress.
package httpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"xfer/pkg/bytespool"
	"xfer/pkg/netconn"
	"xfer/pkg/transfer"
)

// MaxRedirects is the number of redirects a single Get follows.
const MaxRedirects = 5

// State is the connection state of a Client.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Options configure a Client.
type Options struct {
	// ConnectTimeout bounds resolve + connect (+ TLS handshake).
	ConnectTimeout time.Duration
	// IOTimeout fails a read that makes no progress for this long. Zero disables it.
	IOTimeout time.Duration
	// TLS enables https on Connect. Redirects to https use it too, or a
	// default configuration when it is nil.
	TLS *tls.Config
	// UserAgent is sent with every request.
	UserAgent string
	// Dialer overrides the environment proxy dialer.
	Dialer proxy.ContextDialer
}

// Client is an HTTP transfer client for one request.
// Mutable
type Client struct {
	opts    Options
	obs     transfer.Observer
	dialer  netconn.Dialer
	tracker netconn.Tracker

	mu     sync.Mutex
	state  State
	busy   bool
	conn   net.Conn
	br     *bufio.Reader
	origin origin
	host   string
	port   int
	secure bool

	user     string
	password string
}

// origin is the endpoint passed to Connect; basic credentials go nowhere else.
type origin struct {
	host   string
	port   int
	secure bool
}

// New creates a Client reporting progress to obs, which may be nil.
func New(opts Options, obs transfer.Observer) *Client {
	if obs == nil {
		obs = transfer.Discard
	}
	return &Client{
		opts: opts,
		obs:  obs,
		dialer: netconn.Dialer{
			Timeout: opts.ConnectTimeout,
			Forward: opts.Dialer,
		},
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the transport connection to host:port. A zero port
// selects 80, or 443 when TLS is configured.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	if st != StateIdle {
		return transfer.NewError(transfer.KindInvalidState, "connect", fmt.Errorf("client is %s", st))
	}

	secure := c.opts.TLS != nil
	if port <= 0 {
		port = transfer.SchemeHTTP.DefaultPort(secure)
	}

	conn, err := c.dial(ctx, host, port, secure)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		_ = c.tracker.Release(conn)
		return transfer.NewError(transfer.KindCancelled, "connect", net.ErrClosed)
	}

	c.conn = conn
	c.br = c.reader(conn)
	c.origin = origin{host: host, port: port, secure: secure}
	c.host, c.port, c.secure = host, port, secure
	c.state = StateConnected

	slog.Debug("HTTP connected", "host", host, "port", port, "tls", secure)
	return nil
}

// Login stores basic credentials. They are only sent to the host passed to Connect.
func (c *Client) Login(_ context.Context, user, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return transfer.NewError(transfer.KindInvalidState, "login", errors.New("client is closed"))
	}
	c.user, c.password = user, password
	return nil
}

// List is not supported over HTTP.
func (c *Client) List(context.Context, string) (transfer.Result, error) {
	return transfer.Result{}, transfer.NewError(transfer.KindInvalidState, "list",
		errors.New("list is not supported over http"))
}

// Get requests path and streams a 2xx body into w, emitting a progress
// notification after every chunk.
func (c *Client) Get(ctx context.Context, path string, w io.Writer) (transfer.Result, error) {
	c.mu.Lock()
	if c.state != StateConnected || c.busy {
		st := c.state
		c.mu.Unlock()
		return transfer.Result{}, transfer.NewError(transfer.KindInvalidState, "get",
			fmt.Errorf("client is %s", st))
	}
	c.busy = true
	base := &url.URL{
		Scheme: scheme(c.secure),
		Host:   hostPort(c.host, c.port, c.secure),
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	target, err := requestTarget(base, path)
	if err != nil {
		return transfer.Result{}, transfer.NewError(transfer.KindInvalidState, "get",
			fmt.Errorf("invalid path %q: %w", path, err))
	}

	for hops := 0; ; hops++ {
		resp, conn, err := c.roundTrip(ctx, target)
		if err != nil {
			return transfer.Result{}, err
		}

		switch code := resp.StatusCode; {
		case code >= 200 && code < 300:
			n, err := c.stream(ctx, resp, w)
			_ = resp.Body.Close()
			_ = c.tracker.Release(conn)

			return transfer.Result{StatusCode: code, Transferred: n}, err
		case code >= 300 && code < 400 && resp.Header.Get("Location") != "":
			loc, err := resp.Location()
			_ = resp.Body.Close()
			_ = c.tracker.Release(conn)

			if err != nil {
				return transfer.Result{StatusCode: code}, transfer.NewCodeError(transfer.KindTransport, "redirect", code,
					fmt.Errorf("invalid location: %w", err))
			}
			if hops >= MaxRedirects {
				return transfer.Result{StatusCode: code}, transfer.NewCodeError(transfer.KindTooManyRedirects, "redirect", code,
					fmt.Errorf("stopped after %d redirects at %s", hops, target.Redacted()))
			}
			if loc.Scheme != "http" && loc.Scheme != "https" {
				return transfer.Result{StatusCode: code}, transfer.NewCodeError(transfer.KindTransport, "redirect", code,
					fmt.Errorf("unsupported redirect scheme: %s", loc.Scheme))
			}

			slog.Debug("HTTP redirect", "from", target.Redacted(), "to", loc.Redacted(), "status", code)
			target = loc
		default:
			_ = resp.Body.Close()
			_ = c.tracker.Release(conn)

			return transfer.Result{StatusCode: code}, transfer.NewCodeError(transfer.KindHTTPStatus, "get", code,
				fmt.Errorf("unexpected status: %s", resp.Status))
		}
	}
}

// Close releases the transport connection. It is idempotent and may be
// called from any goroutine; pending I/O then fails with a cancelled error.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.conn, c.br = nil, nil
	c.mu.Unlock()

	return c.tracker.Close()
}

func (c *Client) roundTrip(ctx context.Context, target *url.URL) (*http.Response, net.Conn, error) {
	conn, br, err := c.connFor(ctx, target)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		_ = c.tracker.Release(conn)
		return nil, nil, transfer.NewError(transfer.KindInvalidState, "get", fmt.Errorf("failed to create request: %w", err))
	}
	req.Host = target.Host
	req.Close = true
	req.Header.Set("User-Agent", c.userAgent())

	c.mu.Lock()
	user, password, org := c.user, c.password, c.origin
	c.mu.Unlock()
	if host, port, secure := endpoint(target); user != "" && org == (origin{host, port, secure}) {
		req.SetBasicAuth(user, password)
	}

	slog.Debug("HTTP request", "url", target.Redacted())

	if err = req.Write(conn); err != nil {
		_ = c.tracker.Release(conn)
		return nil, nil, c.fail(ctx, transfer.KindTransport, "write request", err)
	}

	resp, err := http.ReadResponse(br, req)
	if err != nil {
		_ = c.tracker.Release(conn)
		return nil, nil, c.fail(ctx, transfer.KindTransport, "read response", err)
	}

	return resp, conn, nil
}

// connFor hands out the connection for target, dialing a new one unless the
// connection opened by Connect points at the same endpoint. A connection
// serves exactly one request.
func (c *Client) connFor(ctx context.Context, target *url.URL) (net.Conn, *bufio.Reader, error) {
	host, port, secure := endpoint(target)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, nil, transfer.NewError(transfer.KindCancelled, "get", net.ErrClosed)
	}
	conn, br := c.conn, c.br
	reuse := conn != nil && c.host == host && c.port == port && c.secure == secure
	c.conn, c.br = nil, nil
	c.mu.Unlock()

	if reuse {
		return conn, br, nil
	}
	if conn != nil {
		_ = c.tracker.Release(conn)
	}

	conn, err := c.dial(ctx, host, port, secure)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.host, c.port, c.secure = host, port, secure
	c.mu.Unlock()

	return conn, c.reader(conn), nil
}

func (c *Client) dial(ctx context.Context, host string, port int, secure bool) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, c.fail(ctx, transfer.KindConnection, "connect", fmt.Errorf("failed to dial %s: %w", addr, err))
	}

	if secure {
		cfg := c.opts.TLS
		if cfg == nil {
			cfg = &tls.Config{}
		}
		conn, err = netconn.Secure(ctx, conn, netconn.PrepareTLS(cfg, host))
		if err != nil {
			return nil, c.fail(ctx, transfer.KindConnection, "handshake", fmt.Errorf("tls handshake with %s: %w", addr, err))
		}
	}

	if !c.tracker.Add(conn) {
		return nil, transfer.NewError(transfer.KindCancelled, "connect", net.ErrClosed)
	}
	return conn, nil
}

func (c *Client) reader(conn net.Conn) *bufio.Reader {
	return bufio.NewReaderSize(netconn.IdleReader(conn, conn, c.opts.IOTimeout), bytespool.DefaultSize)
}

func (c *Client) stream(ctx context.Context, resp *http.Response, w io.Writer) (int64, error) {
	total := resp.ContentLength
	if total < 0 {
		total = transfer.UnknownTotal
	}

	n, err := bytespool.Copy(w, resp.Body, func(n int64) {
		c.obs.Progress(transfer.Progress{Transferred: n, Total: total})
	})

	var werr *bytespool.WriteError
	switch {
	case err == nil:
		return n, nil
	case errors.As(err, &werr):
		return n, transfer.NewError(transfer.KindTransport, "write destination", werr.Err)
	default:
		return n, c.fail(ctx, transfer.KindTransport, "read body", err)
	}
}

// fail classifies err as cancelled when the client was closed or the
// context cancelled, as kind otherwise.
func (c *Client) fail(ctx context.Context, kind transfer.Kind, op string, err error) error {
	if c.tracker.Closed() || errors.Is(ctx.Err(), context.Canceled) {
		return transfer.NewError(transfer.KindCancelled, op, err)
	}
	return transfer.NewError(kind, op, err)
}

func (c *Client) userAgent() string {
	if c.opts.UserAgent != "" {
		return c.opts.UserAgent
	}
	return "xfer"
}

func scheme(secure bool) string {
	if secure {
		return "https"
	}
	return "http"
}

// hostPort renders the authority of a request, omitting the default port.
func hostPort(host string, port int, secure bool) string {
	if port == transfer.SchemeHTTP.DefaultPort(secure) {
		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// requestTarget puts path, a request-URI with optional query, on base. The
// host of base is kept even when path starts with "//".
func requestTarget(base *url.URL, path string) (*url.URL, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	ref, err := url.ParseRequestURI(path)
	if err != nil {
		return nil, err
	}

	t := *base
	t.Path, t.RawPath, t.RawQuery = ref.Path, ref.RawPath, ref.RawQuery
	return &t, nil
}

func endpoint(u *url.URL) (host string, port int, secure bool) {
	secure = u.Scheme == "https"
	host = u.Hostname()
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 {
		port = transfer.SchemeHTTP.DefaultPort(secure)
	}
	return host, port, secure
}
