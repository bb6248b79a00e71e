// Package ftpclient is a passive-mode FTP client with optional implicit TLS.
// It retrieves single files into a caller-supplied sink and enumerates
// directories, reporting progress and listing entries to an observer.
package ftpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"xfer/pkg/bytespool"
	"xfer/pkg/netconn"
	"xfer/pkg/transfer"
)

// Anonymous login used when Login gets an empty user name.
const (
	AnonymousUser     = "anonymous"
	AnonymousPassword = "anonymous@"
)

// quitTimeout bounds the courtesy QUIT sent by Close.
const quitTimeout = 2 * time.Second

// Options configure a Client.
type Options struct {
	// ConnectTimeout bounds resolve + connect (+ TLS handshake) of the
	// control and data connections.
	ConnectTimeout time.Duration
	// IOTimeout fails a read that makes no progress for this long. Zero disables it.
	IOTimeout time.Duration
	// TLS enables implicit TLS on the control and data connections.
	TLS *tls.Config
	// Dialer overrides the environment proxy dialer.
	Dialer proxy.ContextDialer
	// Type is the representation type of retrievals.
	Type TransferType
}

// Client is one FTP session.
// Mutable
type Client struct {
	opts    Options
	obs     transfer.Observer
	dialer  netconn.Dialer
	tracker netconn.Tracker

	mu       sync.Mutex
	state    State
	busy     bool
	host     string
	dataHost string
	tlsCfg   *tls.Config
	text     *textproto.Conn
	user     string
	mode     TransferType
}

// New creates a Client reporting to obs, which may be nil.
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

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// begin marks the client busy if it is in state want.
func (c *Client) begin(op string, want State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy || c.state != want {
		st := c.state
		if c.busy {
			st = StateTransferring
		}
		return transfer.NewError(transfer.KindInvalidState, op,
			fmt.Errorf("client is %s, want %s", st, want))
	}
	c.busy = true
	return nil
}

// end clears the busy mark and moves to next unless the client was closed meanwhile.
func (c *Client) end(next State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.busy = false
	if c.state != StateClosed {
		c.state = next
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		c.state = s
	}
}

// Connect opens the control connection to host:port and reads the
// greeting. A zero port selects 21, or 990 with TLS.
func (c *Client) Connect(ctx context.Context, host string, port int) (err error) {
	if err = c.begin("connect", StateDisconnected); err != nil {
		return err
	}
	next := StateDisconnected
	defer func() { c.end(next) }()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	secure := c.opts.TLS != nil
	if port <= 0 {
		port = transfer.SchemeFTP.DefaultPort(secure)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	raw, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return c.fail(ctx, transfer.KindConnection, "connect", fmt.Errorf("failed to dial %s: %w", addr, err))
	}

	dataHost := host
	// Behind a proxy the peer is the proxy itself; keep the host name then.
	if ta, ok := raw.RemoteAddr().(*net.TCPAddr); ok && ta.Port == port {
		dataHost = ta.IP.String()
	}

	conn := raw
	var cfg *tls.Config
	if secure {
		cfg = netconn.PrepareTLS(c.opts.TLS, host)
		if conn, err = netconn.Secure(ctx, raw, cfg); err != nil {
			return c.fail(ctx, transfer.KindConnection, "handshake", fmt.Errorf("tls handshake with %s: %w", addr, err))
		}
	}

	if !c.tracker.Add(conn) {
		return transfer.NewError(transfer.KindCancelled, "connect", net.ErrClosed)
	}

	text := textproto.NewConn(struct {
		io.Reader
		io.Writer
		io.Closer
	}{netconn.IdleReader(conn, conn, c.opts.IOTimeout), conn, conn})

	c.mu.Lock()
	c.host, c.dataHost, c.tlsCfg, c.text = host, dataHost, cfg, text
	c.mu.Unlock()

	if err = c.greeting(ctx); err != nil {
		c.mu.Lock()
		c.text, c.tlsCfg = nil, nil
		c.mu.Unlock()
		_ = c.tracker.Release(conn)
		return err
	}

	slog.Debug("FTP connected", "host", host, "port", port, "tls", secure)
	next = StateConnected
	return nil
}

// greeting waits for 220, skipping 120 "ready in n minutes" replies.
func (c *Client) greeting(ctx context.Context) error {
	for {
		code, msg, err := c.reply(ctx, "greeting")
		if err != nil {
			if transfer.KindOf(err) == transfer.KindTransport {
				return transfer.NewError(transfer.KindConnection, "greeting", errors.Unwrap(err))
			}
			return err
		}
		switch code {
		case codeReadySoon:
		case codeReady:
			return nil
		default:
			return transfer.NewCodeError(transfer.KindConnection, "greeting", code, errors.New(msg))
		}
	}
}

// Login authenticates with USER/PASS, anonymously when user is empty, then
// negotiates data protection (with TLS) and the transfer type.
func (c *Client) Login(ctx context.Context, user, password string) error {
	if err := c.begin("login", StateConnected); err != nil {
		return err
	}
	next := StateConnected
	defer func() { c.end(next) }()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if user == "" {
		user, password = AnonymousUser, AnonymousPassword
	}

	code, msg, err := c.cmd(ctx, "login", "USER %s", user)
	if err != nil {
		return err
	}
	if code == codeNeedPassword {
		if code, msg, err = c.cmd(ctx, "login", "PASS %s", password); err != nil {
			return err
		}
	}
	switch code {
	case codeLoggedIn, codeNotImplemented:
	case codeNeedAccount:
		return transfer.NewCodeError(transfer.KindAuthentication, "login", code,
			errors.New("server requires an account, which is not supported"))
	default:
		return transfer.NewCodeError(transfer.KindAuthentication, "login", code, errors.New(msg))
	}

	if c.opts.TLS != nil {
		if err = c.expect(ctx, "login", codeOK, "PBSZ 0"); err != nil {
			return err
		}
		if err = c.expect(ctx, "login", codeOK, "PROT P"); err != nil {
			return err
		}
	}

	if err = c.expect(ctx, "login", codeOK, "TYPE %s", c.opts.Type.code()); err != nil {
		return err
	}

	c.mu.Lock()
	c.user, c.mode = user, c.opts.Type
	c.mu.Unlock()

	slog.Debug("FTP logged in", "host", c.host, "user", user)
	next = StateAuthenticated
	return nil
}

// Get retrieves path into w using the configured transfer type.
func (c *Client) Get(ctx context.Context, path string, w io.Writer) (transfer.Result, error) {
	return c.GetMode(ctx, path, w, c.opts.Type)
}

// GetMode retrieves path into w with the given transfer type. The total
// size comes from SIZE when the server supports it.
func (c *Client) GetMode(ctx context.Context, path string, w io.Writer, mode TransferType) (transfer.Result, error) {
	if err := checkPath("get", path); err != nil {
		return transfer.Result{}, err
	}
	if err := c.begin("get", StateAuthenticated); err != nil {
		return transfer.Result{}, err
	}
	defer c.end(StateAuthenticated)

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	c.setState(StateTransferring)

	c.mu.Lock()
	current := c.mode
	c.mu.Unlock()
	if mode != current {
		if err := c.expect(ctx, "type", codeOK, "TYPE %s", mode.code()); err != nil {
			return transfer.Result{}, err
		}
		c.mu.Lock()
		c.mode = mode
		c.mu.Unlock()
	}

	total := transfer.UnknownTotal
	code, msg, err := c.cmd(ctx, "size", "SIZE %s", path)
	if err != nil {
		return transfer.Result{}, err
	}
	if code == codeFileStatus {
		if n, ok := parseSize(msg); ok {
			total = n
		}
	}

	data, err := c.openData(ctx, "get", "RETR %s", path)
	if err != nil {
		return transfer.Result{}, err
	}

	n, err := c.copyData(ctx, data, w, total)
	_ = c.tracker.Release(data)
	if err != nil {
		return transfer.Result{Transferred: n}, err
	}

	if err = c.finishData(ctx, "get"); err != nil {
		return transfer.Result{Transferred: n}, err
	}

	slog.Debug("FTP retrieved", "path", path, "bytes", n)
	return transfer.Result{Transferred: n}, nil
}

// List enumerates path. Every parsed line is reported as an entry; lines
// that cannot be parsed are counted in ParseWarnings.
func (c *Client) List(ctx context.Context, path string) (transfer.Result, error) {
	if err := checkPath("list", path); err != nil {
		return transfer.Result{}, err
	}
	if err := c.begin("list", StateAuthenticated); err != nil {
		return transfer.Result{}, err
	}
	defer c.end(StateAuthenticated)

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	c.setState(StateTransferring)

	var (
		data net.Conn
		err  error
	)
	if path == "" {
		data, err = c.openData(ctx, "list", "LIST")
	} else {
		data, err = c.openData(ctx, "list", "LIST %s", path)
	}
	if err != nil {
		return transfer.Result{}, err
	}

	c.mu.Lock()
	user := c.user
	c.mu.Unlock()

	var res transfer.Result
	buf := bytespool.GetBytes()
	defer bytespool.PutBytes(buf)

	sc := bufio.NewScanner(netconn.IdleReader(data, data, c.opts.IOTimeout))
	sc.Buffer(*buf, 1<<20)
	for sc.Scan() {
		res.Transferred += int64(len(sc.Bytes())) + 1

		e, perr := ParseListLine(sc.Text(), user)
		switch {
		case errors.Is(perr, errSkipLine):
		case perr != nil:
			res.ParseWarnings++
			slog.Debug("FTP listing line skipped", "error", perr)
		default:
			c.obs.Entry(e)
		}
	}
	_ = c.tracker.Release(data)

	if err = sc.Err(); err != nil {
		return res, c.fail(ctx, transfer.KindTransport, "list", err)
	}

	if err = c.finishData(ctx, "list"); err != nil {
		return res, err
	}

	slog.Debug("FTP listed", "path", path, "warnings", res.ParseWarnings)
	return res, nil
}

// Close ends the session. It sends QUIT when no operation is running and
// closes every connection. It is idempotent and safe for concurrent use;
// a running operation fails with a cancelled error.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	quit := !c.busy && c.text != nil
	text := c.text
	c.state = StateClosed
	c.mu.Unlock()

	if quit {
		c.quit(text)
	}
	return c.tracker.Close()
}

func (c *Client) quit(text *textproto.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := text.PrintfLine("QUIT"); err != nil {
			return
		}
		_, _, _ = text.ReadResponse(codeClosing)
	}()

	select {
	case <-done:
	case <-time.After(quitTimeout):
	}
}

// openData negotiates a passive data connection, dials it and sends the
// transfer command. It returns once the server acknowledged with 1xx.
func (c *Client) openData(ctx context.Context, op, format string, args ...any) (net.Conn, error) {
	port, err := c.passive(ctx, op)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	addr := net.JoinHostPort(c.dataHost, strconv.Itoa(port))
	cfg := c.tlsCfg
	c.mu.Unlock()

	data, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, c.fail(ctx, transfer.KindConnection, op, fmt.Errorf("failed to dial data connection %s: %w", addr, err))
	}
	if cfg != nil {
		// The handshake runs on first read; the server only accepts TLS
		// after it received the transfer command.
		data = tls.Client(data, cfg)
	}
	if !c.tracker.Add(data) {
		return nil, transfer.NewError(transfer.KindCancelled, op, net.ErrClosed)
	}

	code, msg, err := c.cmd(ctx, op, format, args...)
	if err != nil {
		_ = c.tracker.Release(data)
		return nil, err
	}
	if !preliminary(code) {
		_ = c.tracker.Release(data)
		if code == codeFileUnavailable {
			return nil, transfer.NewCodeError(transfer.KindFileNotFound, op, code, errors.New(msg))
		}
		return nil, transfer.NewCodeError(transfer.KindTransport, op, code, errors.New(msg))
	}

	return data, nil
}

// passive sends PASV, falling back to EPSV, and returns the data port.
func (c *Client) passive(ctx context.Context, op string) (int, error) {
	code, msg, err := c.cmd(ctx, op, "PASV")
	if err != nil {
		return 0, err
	}
	if code == codePassive {
		// The advertised address is ignored, servers behind NAT report
		// their private one.
		_, port, err := parsePASV(msg)
		if err != nil {
			return 0, transfer.NewCodeError(transfer.KindTransport, op, code, err)
		}
		return port, nil
	}

	pasvCode := code
	if code, msg, err = c.cmd(ctx, op, "EPSV"); err != nil {
		return 0, err
	}
	if code != codeExtPassive {
		return 0, transfer.NewCodeError(transfer.KindTransport, op, pasvCode,
			fmt.Errorf("passive mode refused: %s", msg))
	}
	port, err := parseEPSV(msg)
	if err != nil {
		return 0, transfer.NewCodeError(transfer.KindTransport, op, code, err)
	}
	return port, nil
}

// finishData reads the completion reply of a transfer.
func (c *Client) finishData(ctx context.Context, op string) error {
	code, msg, err := c.reply(ctx, op)
	if err != nil {
		return err
	}
	if code != codeTransferDone && code != codeActionDone {
		return transfer.NewCodeError(transfer.KindTransport, op, code, errors.New(msg))
	}
	return nil
}

func (c *Client) copyData(ctx context.Context, data net.Conn, w io.Writer, total int64) (int64, error) {
	r := netconn.IdleReader(data, data, c.opts.IOTimeout)
	n, err := bytespool.Copy(w, r, func(n int64) {
		c.obs.Progress(transfer.Progress{Transferred: n, Total: total})
	})

	var werr *bytespool.WriteError
	switch {
	case err == nil:
		return n, nil
	case errors.As(err, &werr):
		return n, transfer.NewError(transfer.KindTransport, "write destination", werr.Err)
	default:
		return n, c.fail(ctx, transfer.KindTransport, "get", err)
	}
}

// cmd sends one command and reads its reply.
func (c *Client) cmd(ctx context.Context, op, format string, args ...any) (int, string, error) {
	c.mu.Lock()
	text := c.text
	c.mu.Unlock()

	if text == nil {
		return 0, "", transfer.NewError(transfer.KindInvalidState, op, errors.New("not connected"))
	}
	for _, a := range args {
		if s, ok := a.(string); ok && transfer.HasLineBreak(s) {
			return 0, "", transfer.NewError(transfer.KindInvalidState, op, errors.New("argument contains a line break"))
		}
	}

	if err := text.PrintfLine(format, args...); err != nil {
		return 0, "", c.fail(ctx, transfer.KindTransport, op, err)
	}
	return c.reply(ctx, op)
}

// reply reads one, possibly multi-line, reply.
func (c *Client) reply(ctx context.Context, op string) (int, string, error) {
	c.mu.Lock()
	text := c.text
	c.mu.Unlock()

	if text == nil {
		return 0, "", transfer.NewError(transfer.KindInvalidState, op, errors.New("not connected"))
	}

	code, msg, err := text.ReadResponse(0)
	if err != nil {
		return 0, "", c.fail(ctx, transfer.KindTransport, op, err)
	}
	return code, msg, nil
}

// expect sends a command and requires the given reply code.
func (c *Client) expect(ctx context.Context, op string, want int, format string, args ...any) error {
	code, msg, err := c.cmd(ctx, op, format, args...)
	if err != nil {
		return err
	}
	if code != want {
		return transfer.NewCodeError(transfer.KindTransport, op, code, errors.New(msg))
	}
	return nil
}

// checkPath refuses paths that would split a command line.
func checkPath(op, path string) error {
	if transfer.HasLineBreak(path) {
		return transfer.NewError(transfer.KindInvalidState, op, fmt.Errorf("path %q contains a line break", path))
	}
	return nil
}

// fail classifies err as cancelled when the client was closed or the
// context cancelled, as kind otherwise.
func (c *Client) fail(ctx context.Context, kind transfer.Kind, op string, err error) error {
	if c.tracker.Closed() || errors.Is(ctx.Err(), context.Canceled) {
		return transfer.NewError(transfer.KindCancelled, op, err)
	}
	return transfer.NewError(kind, op, err)
}
