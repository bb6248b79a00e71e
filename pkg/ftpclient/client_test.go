package ftpclient

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xfer/pkg/ftpclient/ftptest"
	"xfer/pkg/transfer"
)

type mockObserver struct {
	mu       sync.Mutex
	progress []transfer.Progress
	entries  []transfer.DirEntry
	first    chan struct{}
}

func newMockObserver() *mockObserver {
	return &mockObserver{first: make(chan struct{}, 1)}
}

func (m *mockObserver) Progress(p transfer.Progress) {
	m.mu.Lock()
	m.progress = append(m.progress, p)
	m.mu.Unlock()

	select {
	case m.first <- struct{}{}:
	default:
	}
}

func (m *mockObserver) Entry(e transfer.DirEntry) {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
}

func newServer(t *testing.T) *ftptest.Server {
	t.Helper()
	s := ftptest.NewUnstartedServer()
	t.Cleanup(s.Close)
	return s
}

func newClient(obs transfer.Observer) *Client {
	return New(Options{
		ConnectTimeout: 5 * time.Second,
		IOTimeout:      5 * time.Second,
		Dialer:         &net.Dialer{},
	}, obs)
}

func connect(t *testing.T, s *ftptest.Server, obs transfer.Observer) *Client {
	t.Helper()

	c := newClient(obs)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", s.Port()))
	require.Equal(t, StateConnected, c.State())
	return c
}

func TestGet(t *testing.T) {
	s := newServer(t)
	content := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	s.Files["/pub/image.iso"] = content
	s.Start()

	obs := newMockObserver()
	c := connect(t, s, obs)
	require.NoError(t, c.Login(context.Background(), "", ""))
	assert.Equal(t, StateAuthenticated, c.State())

	buf := &bytes.Buffer{}
	res, err := c.Get(context.Background(), "/pub/image.iso", buf)
	require.NoError(t, err)

	assert.Equal(t, content, buf.Bytes())
	assert.Equal(t, int64(len(content)), res.Transferred)
	assert.Zero(t, res.StatusCode)
	assert.Equal(t, StateAuthenticated, c.State())

	require.NotEmpty(t, obs.progress)
	last := obs.progress[len(obs.progress)-1]
	assert.Equal(t, transfer.Progress{Transferred: int64(len(content)), Total: int64(len(content))}, last)
	for i := 1; i < len(obs.progress); i++ {
		assert.Greater(t, obs.progress[i].Transferred, obs.progress[i-1].Transferred)
	}

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.NoError(t, c.Close())

	assert.Eventually(t, func() bool {
		seen := s.Commands()
		return len(seen) > 0 && seen[len(seen)-1] == "QUIT"
	}, time.Second, 10*time.Millisecond)
}

func TestGetWithoutSize(t *testing.T) {
	s := newServer(t)
	s.Files["/a.txt"] = []byte("hello")
	s.NoSize = true
	s.Start()

	obs := newMockObserver()
	c := connect(t, s, obs)
	require.NoError(t, c.Login(context.Background(), "alice", "s3cret"))

	buf := &bytes.Buffer{}
	_, err := c.Get(context.Background(), "/a.txt", buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", buf.String())
	assert.Equal(t, transfer.UnknownTotal, obs.progress[len(obs.progress)-1].Total)
}

func TestGetModeSwitchesType(t *testing.T) {
	s := newServer(t)
	s.Files["/notes.txt"] = []byte("line one\r\nline two\r\n")
	s.Start()

	c := connect(t, s, nil)
	require.NoError(t, c.Login(context.Background(), "", ""))

	countTYPE := func() int {
		n := 0
		for _, v := range s.Commands() {
			if v == "TYPE" {
				n++
			}
		}
		return n
	}
	require.Equal(t, 1, countTYPE())

	for i := 0; i < 2; i++ {
		buf := &bytes.Buffer{}
		_, err := c.GetMode(context.Background(), "/notes.txt", buf, ASCII)
		require.NoError(t, err)
		assert.Equal(t, "line one\r\nline two\r\n", buf.String())
	}
	assert.Equal(t, 2, countTYPE(), "TYPE is only sent when the mode changes")

	_, err := c.Get(context.Background(), "/notes.txt", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 3, countTYPE())
}

func TestGetFileNotFound(t *testing.T) {
	s := newServer(t)
	s.Start()

	c := connect(t, s, nil)
	require.NoError(t, c.Login(context.Background(), "", ""))

	_, err := c.Get(context.Background(), "/missing", &bytes.Buffer{})
	assert.ErrorIs(t, err, transfer.ErrFileNotFound)
	assert.Equal(t, 550, transfer.CodeOf(err))
	assert.Equal(t, StateAuthenticated, c.State())
}

func TestList(t *testing.T) {
	s := newServer(t)
	s.Listings["/iso/"] = "total 3\r\n" +
		"drwxr-xr-x 2 ftp ftp 4096 Jan 13 10:22 a\r\n" +
		"-rw-r--r-- 1 ftp ftp 1024 Jan 13 10:22 b.iso\r\n" +
		"garbage line\r\n"
	s.Start()

	obs := newMockObserver()
	c := connect(t, s, obs)
	require.NoError(t, c.Login(context.Background(), "", ""))

	res, err := c.List(context.Background(), "/iso/")
	require.NoError(t, err)

	assert.Equal(t, 1, res.ParseWarnings)
	assert.Equal(t, []transfer.DirEntry{
		{Name: "a", Size: 4096, Kind: transfer.Directory, Readable: true},
		{Name: "b.iso", Size: 1024, Kind: transfer.File, Readable: true},
	}, obs.entries)
	assert.Equal(t, StateAuthenticated, c.State())
}

func TestOperationsBeforeLogin(t *testing.T) {
	s := newServer(t)
	s.Files["/a.txt"] = []byte("hello")
	s.Listings["/"] = ""
	s.Start()

	c := connect(t, s, nil)

	_, err := c.Get(context.Background(), "/a.txt", &bytes.Buffer{})
	assert.ErrorIs(t, err, transfer.ErrInvalidState)

	_, err = c.List(context.Background(), "/")
	assert.ErrorIs(t, err, transfer.ErrInvalidState)

	assert.Equal(t, StateConnected, c.State())
	assert.Zero(t, s.DataConnections())
	assert.NotContains(t, s.Commands(), "PASV")
}

func TestCommandArgumentsWithLineBreaks(t *testing.T) {
	s := newServer(t)
	s.Files["/a"] = []byte("hello")
	s.Start()

	c := connect(t, s, nil)

	err := c.Login(context.Background(), "alice\r\nDELE /victim", "s3cret")
	assert.ErrorIs(t, err, transfer.ErrInvalidState)
	assert.Equal(t, StateConnected, c.State())

	require.NoError(t, c.Login(context.Background(), "", ""))

	_, err = c.Get(context.Background(), "/a\r\nDELE /victim", &bytes.Buffer{})
	assert.ErrorIs(t, err, transfer.ErrInvalidState)

	_, err = c.List(context.Background(), "/\nDELE /victim")
	assert.ErrorIs(t, err, transfer.ErrInvalidState)

	assert.NotContains(t, s.Commands(), "DELE")
	assert.NotContains(t, s.Commands(), "PASV")

	// The reply stream is still in step.
	buf := &bytes.Buffer{}
	_, err = c.Get(context.Background(), "/a", buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", buf.String())
}

func TestLoginRejected(t *testing.T) {
	s := newServer(t)
	s.Start()

	c := connect(t, s, nil)

	err := c.Login(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, transfer.ErrAuthentication)
	assert.Equal(t, 530, transfer.CodeOf(err))
	assert.Equal(t, StateConnected, c.State())
}

func TestConnectTwice(t *testing.T) {
	s := newServer(t)
	s.Start()

	c := connect(t, s, nil)
	err := c.Connect(context.Background(), "127.0.0.1", s.Port())
	assert.ErrorIs(t, err, transfer.ErrInvalidState)
}

func TestConnectRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	c := newClient(nil)
	defer c.Close()

	err = c.Connect(context.Background(), "127.0.0.1", port)
	assert.ErrorIs(t, err, transfer.ErrConnection)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestGreetingRejected(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	closed := make(chan struct{})
	go func() {
		for i := 0; ; i++ {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			if i == 0 {
				_, _ = conn.Write([]byte("421 too many users\r\n"))
				// Returns once the client dropped the connection.
				_, _ = conn.Read(make([]byte, 1))
				close(closed)
				_ = conn.Close()
				continue
			}
			_, _ = conn.Write([]byte("220 ready\r\n"))
			defer conn.Close()
		}
	}()

	c := newClient(nil)
	defer c.Close()

	port := l.Addr().(*net.TCPAddr).Port
	err = c.Connect(context.Background(), "127.0.0.1", port)
	assert.ErrorIs(t, err, transfer.ErrConnection)
	assert.Equal(t, 421, transfer.CodeOf(err))
	assert.Equal(t, StateDisconnected, c.State())

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("control connection still open after rejected greeting")
	}

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", port))
	assert.Equal(t, StateConnected, c.State())
}

func TestCancelDuringGet(t *testing.T) {
	s := newServer(t)
	s.Files["/big.bin"] = bytes.Repeat([]byte{'z'}, 1<<16)
	s.Stall = true
	s.Start()

	obs := newMockObserver()
	c := connect(t, s, obs)
	require.NoError(t, c.Login(context.Background(), "", ""))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-obs.first
		cancel()
	}()

	_, err := c.Get(ctx, "/big.bin", &bytes.Buffer{})
	assert.ErrorIs(t, err, transfer.ErrCancelled)
	assert.Equal(t, StateClosed, c.State())

	_, err = c.List(context.Background(), "/")
	assert.ErrorIs(t, err, transfer.ErrInvalidState)
}

func TestCloseFromOtherGoroutine(t *testing.T) {
	s := newServer(t)
	s.Files["/big.bin"] = bytes.Repeat([]byte{'z'}, 1<<16)
	s.Stall = true
	s.Start()

	obs := newMockObserver()
	c := connect(t, s, obs)
	require.NoError(t, c.Login(context.Background(), "", ""))

	go func() {
		<-obs.first
		_ = c.Close()
	}()

	_, err := c.Get(context.Background(), "/big.bin", &bytes.Buffer{})
	assert.ErrorIs(t, err, transfer.ErrCancelled)
	assert.NotContains(t, s.Commands(), "QUIT")
}
