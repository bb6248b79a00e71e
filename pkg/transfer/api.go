// Package transfer defines the protocol-neutral vocabulary shared by the
// transfer clients: requests, progress, directory entries, outcomes, and the
// per-request event channel that carries them to the caller.
package transfer

import (
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"strings"
)

// Scheme selects the wire protocol used for a request.
type Scheme string

const (
	// SchemeHTTP is HTTP/1.x, optionally over TLS.
	SchemeHTTP Scheme = "http"
	// SchemeFTP is FTP with a passive-mode data connection, optionally implicit TLS.
	SchemeFTP Scheme = "ftp"
)

// String returns the string representation of the Scheme.
func (s Scheme) String() string {
	return string(s)
}

// DefaultPort returns the well-known port of the scheme.
func (s Scheme) DefaultPort(secure bool) int {
	switch s {
	case SchemeHTTP:
		if secure {
			return 443
		}
		return 80
	case SchemeFTP:
		if secure {
			return 990
		}
		return 21
	}
	return 0
}

// Operation is the action a request performs.
type Operation int

const (
	// OpGet retrieves a single remote file into the destination.
	OpGet Operation = iota
	// OpList enumerates a remote directory. FTP only.
	OpList
)

func (o Operation) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpList:
		return "list"
	}
	return "operation(" + strconv.Itoa(int(o)) + ")"
}

// Credentials authenticate a request. They live only as long as the request.
type Credentials struct {
	Username string
	Password string
}

// Request describes one transfer.
type Request struct {
	Scheme Scheme
	Host   string
	// Port is the remote port; zero selects the scheme default.
	Port int
	Path string
	// Credentials is optional. FTP falls back to anonymous login.
	Credentials *Credentials
	// Destination receives the body of a GET. Owned by the caller.
	Destination io.Writer
	Operation   Operation
	// TLS enables the secure variant of the scheme (https, implicit ftps).
	TLS *tls.Config
}

// Secure reports whether the request runs over TLS.
func (r Request) Secure() bool {
	return r.TLS != nil
}

// EffectivePort returns Port, or the scheme default when Port is zero.
func (r Request) EffectivePort() int {
	if r.Port > 0 {
		return r.Port
	}
	return r.Scheme.DefaultPort(r.Secure())
}

// Address returns the host:port pair the request connects to.
func (r Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.EffectivePort()))
}

// Validate checks the request invariants before any network activity.
func (r Request) Validate() error {
	switch r.Scheme {
	case SchemeHTTP, SchemeFTP:
	default:
		return NewError(KindInvalidState, "validate", errUnsupportedScheme(r.Scheme))
	}
	if r.Host == "" {
		return NewError(KindInvalidState, "validate", errBlank("host"))
	}
	if r.Port < 0 || r.Port > 65535 {
		return NewError(KindInvalidState, "validate", errInvalidPort(r.Port))
	}
	if HasLineBreak(r.Path) {
		return NewError(KindInvalidState, "validate", errLineBreak("path"))
	}
	if r.Credentials != nil && (HasLineBreak(r.Credentials.Username) || HasLineBreak(r.Credentials.Password)) {
		return NewError(KindInvalidState, "validate", errLineBreak("credentials"))
	}
	switch r.Operation {
	case OpGet:
		if r.Destination == nil {
			return NewError(KindInvalidState, "validate", errBlank("destination"))
		}
	case OpList:
		if r.Scheme != SchemeFTP {
			return NewError(KindInvalidState, "validate", errListUnsupported(r.Scheme))
		}
	default:
		return NewError(KindInvalidState, "validate", errUnknownOperation(r.Operation))
	}
	return nil
}

// HasLineBreak reports whether s contains CR or LF, which would end a
// protocol command line early.
func HasLineBreak(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

// UnknownTotal marks a Progress whose total size is not known.
const UnknownTotal int64 = -1

// Progress reports bytes moved so far for an active transfer.
type Progress struct {
	Transferred int64
	// Total is the expected size, or UnknownTotal.
	Total int64
}

// Percent returns the completion percentage, or -1 when Total is unknown.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return -1
	}
	if p.Transferred >= p.Total {
		return 100
	}
	return int(p.Transferred * 100 / p.Total)
}

// EntryKind is the type of a directory entry.
type EntryKind int

const (
	File EntryKind = iota
	Directory
	SymbolicLink
)

func (k EntryKind) String() string {
	switch k {
	case File:
		return "file"
	case Directory:
		return "dir"
	case SymbolicLink:
		return "link"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// DirEntry is one line of a remote directory listing.
type DirEntry struct {
	Name     string
	Size     int64
	Kind     EntryKind
	Readable bool
}

// Result carries the metadata of a successful request.
type Result struct {
	// StatusCode is the final HTTP status. Zero for FTP.
	StatusCode int
	// ParseWarnings counts listing lines that could not be parsed.
	ParseWarnings int
	// Transferred is the number of bytes written to the destination.
	Transferred int64
}

// Outcome is the terminal value of a request. A nil Err means success.
type Outcome struct {
	Result
	Err error
}

// Success reports whether the request completed without error.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Kind returns the error kind of a failed outcome, or zero on success.
func (o Outcome) Kind() Kind {
	return KindOf(o.Err)
}

// Observer receives the non-terminal notifications of a running transfer.
// Implementations must not block.
type Observer interface {
	Progress(p Progress)
	Entry(e DirEntry)
}

// Discard is an Observer that ignores every notification.
var Discard Observer = discard{}

type discard struct{}

func (discard) Progress(Progress) {}
func (discard) Entry(DirEntry)    {}
