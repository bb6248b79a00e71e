package transfer

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// ParseRequest builds a Request from a URL. Supported schemes are http,
// https, ftp and ftps (implicit TLS). Userinfo becomes Credentials.
func ParseRequest(rawURL string, op Operation, dst io.Writer) (Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Request{}, fmt.Errorf("invalid url: %w", err)
	}

	r := Request{
		Host:        u.Hostname(),
		Operation:   op,
		Destination: dst,
	}

	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "http", "https":
		r.Scheme = SchemeHTTP
		r.Path = u.RequestURI()
		if scheme == "https" {
			r.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	case "ftp", "ftps":
		r.Scheme = SchemeFTP
		r.Path = u.Path
		if scheme == "ftps" {
			r.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	default:
		return Request{}, NewError(KindInvalidState, "parse", errUnsupportedScheme(Scheme(scheme)))
	}

	if p := u.Port(); p != "" {
		r.Port, err = strconv.Atoi(p)
		if err != nil {
			return Request{}, fmt.Errorf("invalid port %q: %w", p, err)
		}
	}

	if u.User != nil {
		pw, _ := u.User.Password()
		r.Credentials = &Credentials{
			Username: u.User.Username(),
			Password: pw,
		}
	}

	return r, r.Validate()
}

// URL renders the request target without credentials, for logs and display.
func (r Request) URL() string {
	scheme := string(r.Scheme)
	if r.Secure() {
		scheme += "s"
	}

	host := r.Host
	if r.Port > 0 && r.Port != r.Scheme.DefaultPort(r.Secure()) {
		host = r.Address()
	}

	path := r.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return scheme + "://" + host + path
}
