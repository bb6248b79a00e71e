package transfer

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind classifies transfer failures.
type Kind int

const (
	kindNone Kind = iota
	// KindConnection covers resolve, connect and connect-timeout failures.
	KindConnection
	// KindAuthentication means the FTP login was rejected.
	KindAuthentication
	// KindInvalidState means an operation was invoked out of sequence.
	KindInvalidState
	// KindHTTPStatus is a non-success, non-redirect HTTP status.
	KindHTTPStatus
	// KindTooManyRedirects means the redirect hop limit was exceeded.
	KindTooManyRedirects
	// KindFileNotFound is an FTP 550-class reply.
	KindFileNotFound
	// KindTransport is an I/O failure in the middle of a transfer.
	KindTransport
	// KindCancelled means the request was cancelled explicitly.
	KindCancelled
)

var kindNames = map[Kind]string{
	KindConnection:       "ConnectionError",
	KindAuthentication:   "AuthenticationError",
	KindInvalidState:     "InvalidStateError",
	KindHTTPStatus:       "HttpStatusError",
	KindTooManyRedirects: "TooManyRedirectsError",
	KindFileNotFound:     "FileNotFoundError",
	KindTransport:        "TransportError",
	KindCancelled:        "CancelledError",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Error is the failure type produced by every transfer client.
type Error struct {
	Kind Kind
	// Code is the HTTP status or FTP reply code, when one is known.
	Code int
	// Op is the protocol step that failed, e.g. "connect" or "retr".
	Op  string
	Err error
}

// NewError returns an Error of the given kind wrapping err.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewCodeError returns an Error carrying a protocol reply code.
func NewCodeError(kind Kind, op string, code int, err error) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Code != 0 {
		msg += "{" + strconv.Itoa(e.Code) + "}"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, and by code when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == 0 || t.Code == e.Code)
}

// Sentinels for errors.Is.
var (
	ErrConnection       = &Error{Kind: KindConnection}
	ErrAuthentication   = &Error{Kind: KindAuthentication}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrHTTPStatus       = &Error{Kind: KindHTTPStatus}
	ErrTooManyRedirects = &Error{Kind: KindTooManyRedirects}
	ErrFileNotFound     = &Error{Kind: KindFileNotFound}
	ErrTransport        = &Error{Kind: KindTransport}
	ErrCancelled        = &Error{Kind: KindCancelled}
)

// KindOf returns the Kind of the first *Error in err's chain, zero if none.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return kindNone
}

// CodeOf returns the reply code of the first *Error in err's chain.
func CodeOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return 0
}

func errUnsupportedScheme(s Scheme) error {
	return fmt.Errorf("unsupported scheme: %q", string(s))
}

func errBlank(what string) error {
	return fmt.Errorf("blank %s", what)
}

func errLineBreak(what string) error {
	return fmt.Errorf("%s contains a line break", what)
}

func errInvalidPort(p int) error {
	return fmt.Errorf("invalid port number: %d", p)
}

func errListUnsupported(s Scheme) error {
	return fmt.Errorf("list is not supported over %s", s)
}

func errUnknownOperation(o Operation) error {
	return fmt.Errorf("unknown operation: %s", o)
}
