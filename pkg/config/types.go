// Package config manages application-wide settings. Values come from
// built-in defaults, a YAML file under the XDG config directory, a .env
// file and XFER_* environment variables, later sources winning.
package config

// fileConfig is the on-disk YAML layout. Zero values leave the current
// setting untouched.
type fileConfig struct {
	ConnectTimeoutMs int    `yaml:"connectTimeoutMs"`
	IOTimeoutMs      int    `yaml:"ioTimeoutMs"`
	EventBuffer      int    `yaml:"eventBuffer"`
	Parallel         int    `yaml:"parallel"`
	DownloadDir      string `yaml:"downloadDir"`
	UserAgent        string `yaml:"userAgent"`

	FTP struct {
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		// Type is "binary" or "ascii".
		Type string `yaml:"type"`
	} `yaml:"ftp"`

	TLS struct {
		InsecureSkipVerify        bool   `yaml:"insecureSkipVerify"`
		ClientCertificate         string `yaml:"clientCertificate"`
		ClientCertificatePassword string `yaml:"clientCertificatePassword"`
	} `yaml:"tls"`
}

// Environment variables read by Load.
const (
	EnvConnectTimeoutMs = "XFER_CONNECT_TIMEOUT_MS"
	EnvIOTimeoutMs      = "XFER_IO_TIMEOUT_MS"
	EnvEventBuffer      = "XFER_EVENT_BUFFER"
	EnvParallel         = "XFER_PARALLEL"
	EnvDownloadDir      = "XFER_DOWNLOAD_DIR"
	EnvUserAgent        = "XFER_USER_AGENT"
	EnvFTPUser          = "XFER_FTP_USER"
	EnvFTPPassword      = "XFER_FTP_PASSWORD"
	EnvFTPType          = "XFER_FTP_TYPE"
	EnvTLSInsecure      = "XFER_TLS_INSECURE"
	EnvTLSClientCert    = "XFER_TLS_CLIENT_CERT"
	EnvTLSClientCertPwd = "XFER_TLS_CLIENT_CERT_PASSWORD"
)
