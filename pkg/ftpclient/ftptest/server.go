// Package ftptest provides a minimal passive-mode FTP server on the
// loopback interface for tests, in the manner of net/http/httptest.
package ftptest

import (
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Server serves Files and Listings to one or more sessions. Configure it
// before Start.
//
// PASV replies advertise a documentation address (192.0.2.1), so a client
// that dials the advertised host instead of the control peer fails.
// Mutable
type Server struct {
	// User and Password are accepted besides anonymous logins.
	User     string
	Password string
	// Files maps RETR/SIZE paths to content.
	Files map[string][]byte
	// Listings maps LIST arguments to the raw listing text.
	Listings map[string]string
	// NoSize answers SIZE with 550.
	NoSize bool
	// Stall makes RETR send half of the file and then wait until Close.
	Stall bool

	l         net.Listener
	release   chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	commands   []string
	dataAccept int
}

// NewUnstartedServer listens on 127.0.0.1 without serving yet.
func NewUnstartedServer() *Server {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("ftptest: failed to listen: %v", err))
	}

	return &Server{
		User:     "alice",
		Password: "s3cret",
		Files:    map[string][]byte{},
		Listings: map[string]string{},
		l:        l,
		release:  make(chan struct{}),
	}
}

// Start accepts sessions in the background.
func (s *Server) Start() {
	go func() {
		for {
			conn, err := s.l.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
}

// Close stops accepting sessions and releases stalled transfers.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.release)
		_ = s.l.Close()
	})
}

// Port returns the control port.
func (s *Server) Port() int {
	return s.l.Addr().(*net.TCPAddr).Port
}

// URL returns "ftp://127.0.0.1:<port>".
func (s *Server) URL() string {
	return "ftp://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port()))
}

// Commands returns the verbs received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// DataConnections returns the number of accepted data connections.
func (s *Server) DataConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataAccept
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	text := textproto.NewConn(conn)
	reply := func(code int, msg string) {
		_ = text.PrintfLine("%d %s", code, msg)
	}

	_ = text.PrintfLine("220-ftptest")
	reply(220, "ready")

	var (
		user     string
		loggedIn bool
		pasv     net.Listener
	)
	defer func() {
		if pasv != nil {
			_ = pasv.Close()
		}
	}()

	for {
		line, err := text.ReadLine()
		if err != nil {
			return
		}

		verb, arg, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)

		s.mu.Lock()
		s.commands = append(s.commands, verb)
		s.mu.Unlock()

		switch verb {
		case "USER":
			user = arg
			reply(331, "password please")
		case "PASS":
			if user == "anonymous" || (user == s.User && arg == s.Password) {
				loggedIn = true
				reply(230, "logged in")
			} else {
				reply(530, "login incorrect")
			}
		case "TYPE":
			reply(200, "type set")
		case "SIZE":
			data, ok := s.Files[arg]
			if !ok || s.NoSize {
				reply(550, "no size")
				continue
			}
			reply(213, strconv.Itoa(len(data)))
		case "PASV":
			if !loggedIn {
				reply(530, "not logged in")
				continue
			}
			if pasv != nil {
				_ = pasv.Close()
			}
			pasv, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply(425, "cannot open data connection")
				continue
			}
			p := pasv.Addr().(*net.TCPAddr).Port
			reply(227, fmt.Sprintf("Entering Passive Mode (192,0,2,1,%d,%d).", p>>8, p&0xff))
		case "RETR":
			data, ok := s.Files[arg]
			if !ok {
				reply(550, "no such file")
				continue
			}
			dc := s.acceptData(pasv)
			if dc == nil {
				reply(425, "no data connection")
				continue
			}
			reply(150, "opening data connection")
			if s.Stall {
				_, _ = dc.Write(data[:len(data)/2])
				<-s.release
				_ = dc.Close()
				return
			}
			_, _ = dc.Write(data)
			_ = dc.Close()
			reply(226, "transfer complete")
		case "LIST":
			listing, ok := s.Listings[arg]
			if !ok {
				reply(550, "no such directory")
				continue
			}
			dc := s.acceptData(pasv)
			if dc == nil {
				reply(425, "no data connection")
				continue
			}
			reply(150, "here comes the listing")
			_, _ = dc.Write([]byte(listing))
			_ = dc.Close()
			reply(226, "directory send ok")
		case "QUIT":
			reply(221, "bye")
			return
		default:
			reply(502, "not implemented")
		}
	}
}

func (s *Server) acceptData(l net.Listener) net.Conn {
	if l == nil {
		return nil
	}
	_ = l.(*net.TCPListener).SetDeadline(time.Now().Add(5 * time.Second))
	dc, err := l.Accept()
	if err != nil {
		return nil
	}

	s.mu.Lock()
	s.dataAccept++
	s.mu.Unlock()
	return dc
}
