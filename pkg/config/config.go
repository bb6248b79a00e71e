package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultIOTimeout      = 60 * time.Second
	DefaultEventBuffer    = 64
	DefaultParallel       = 4
)

// ReadOnly defines the read-only interface for Config.
// Immutable
type ReadOnly interface {
	GetConfigFile() string
	GetDownloadDir() string
	GetConnectTimeout() time.Duration
	GetIOTimeout() time.Duration
	GetEventBuffer() int
	GetParallel() int
	GetUserAgent() string
	GetFTPUser() string
	GetFTPPassword() string
	GetFTPType() string
	GetTLS() TLSSettings
}

// TLSSettings configure the TLS variants of the protocols.
type TLSSettings struct {
	InsecureSkipVerify bool
	// ClientCertificate is a PKCS#12 file presented to the server.
	ClientCertificate         string
	ClientCertificatePassword string
}

// Config holds the settings of xfer.
// Mutable until Freeze.
type Config struct {
	configFile string

	downloadDir    string
	connectTimeout time.Duration
	ioTimeout      time.Duration
	eventBuffer    int
	parallel       int
	userAgent      string

	ftpUser     string
	ftpPassword string
	ftpType     string

	tls TLSSettings

	frozen bool
}

var _ ReadOnly = (*Config)(nil)

func (c *Config) GetConfigFile() string            { return c.configFile }
func (c *Config) GetDownloadDir() string           { return c.downloadDir }
func (c *Config) GetConnectTimeout() time.Duration { return c.connectTimeout }
func (c *Config) GetIOTimeout() time.Duration      { return c.ioTimeout }
func (c *Config) GetEventBuffer() int              { return c.eventBuffer }
func (c *Config) GetParallel() int                 { return c.parallel }
func (c *Config) GetUserAgent() string             { return c.userAgent }
func (c *Config) GetFTPUser() string               { return c.ftpUser }
func (c *Config) GetFTPPassword() string           { return c.ftpPassword }
func (c *Config) GetFTPType() string               { return c.ftpType }
func (c *Config) GetTLS() TLSSettings              { return c.tls }

// SetConnectTimeout overrides the connect timeout, e.g. from a flag.
func (c *Config) SetConnectTimeout(d time.Duration) {
	c.mutable()
	c.connectTimeout = d
}

// SetParallel overrides the number of concurrent downloads.
func (c *Config) SetParallel(n int) {
	c.mutable()
	c.parallel = n
}

// Freeze makes further modification panic.
func (c *Config) Freeze() {
	c.frozen = true
}

func (c *Config) mutable() {
	if c.frozen {
		panic("cannot modify frozen config")
	}
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "xfer", "config.yaml")
}

// Init returns the built-in defaults using XDG base directories.
func Init() *Config {
	downloadDir := xdg.UserDirs.Download
	if downloadDir == "" {
		downloadDir = filepath.Join(xdg.Home, "Downloads")
	}

	return &Config{
		downloadDir:    downloadDir,
		connectTimeout: DefaultConnectTimeout,
		ioTimeout:      DefaultIOTimeout,
		eventBuffer:    DefaultEventBuffer,
		parallel:       DefaultParallel,
		userAgent:      DefaultUserAgent(),
		ftpType:        "binary",
	}
}

// Load builds the configuration from defaults, the YAML file at path, a
// .env file next to it or in the working directory, and the environment.
// An empty path reads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	c := Init()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := c.applyYAML(data); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		c.configFile = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// loadDotEnv reads .env next to the config file, or in the working
// directory. Variables already set in the environment win.
func loadDotEnv(nextToConfig string) {
	if _, err := os.Stat(nextToConfig); err == nil {
		if err := godotenv.Load(nextToConfig); err != nil {
			slog.Warn("Failed to load .env file", "path", nextToConfig, "error", err)
		}
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}
}

func (c *Config) applyYAML(data []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}

	if f.ConnectTimeoutMs > 0 {
		c.connectTimeout = time.Duration(f.ConnectTimeoutMs) * time.Millisecond
	}
	if f.IOTimeoutMs > 0 {
		c.ioTimeout = time.Duration(f.IOTimeoutMs) * time.Millisecond
	}
	if f.EventBuffer > 0 {
		c.eventBuffer = f.EventBuffer
	}
	if f.Parallel > 0 {
		c.parallel = f.Parallel
	}
	if f.DownloadDir != "" {
		c.downloadDir = expandHome(f.DownloadDir)
	}
	if f.UserAgent != "" {
		c.userAgent = f.UserAgent
	}
	if f.FTP.User != "" {
		c.ftpUser, c.ftpPassword = f.FTP.User, f.FTP.Password
	}
	if f.FTP.Type != "" {
		c.ftpType = strings.ToLower(f.FTP.Type)
	}
	if f.TLS.InsecureSkipVerify {
		c.tls.InsecureSkipVerify = true
	}
	if f.TLS.ClientCertificate != "" {
		c.tls.ClientCertificate = expandHome(f.TLS.ClientCertificate)
		c.tls.ClientCertificatePassword = f.TLS.ClientCertificatePassword
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}

	millis := func(key string, dst *time.Duration) error {
		v, ok := get(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s %q: want a positive number of milliseconds", key, v)
		}
		*dst = time.Duration(n) * time.Millisecond
		return nil
	}
	count := func(key string, dst *int) error {
		v, ok := get(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s %q: want a positive number", key, v)
		}
		*dst = n
		return nil
	}

	for _, err := range []error{
		millis(EnvConnectTimeoutMs, &c.connectTimeout),
		millis(EnvIOTimeoutMs, &c.ioTimeout),
		count(EnvEventBuffer, &c.eventBuffer),
		count(EnvParallel, &c.parallel),
	} {
		if err != nil {
			return err
		}
	}

	if v, ok := get(EnvDownloadDir); ok {
		c.downloadDir = expandHome(v)
	}
	if v, ok := get(EnvUserAgent); ok {
		c.userAgent = v
	}
	if v, ok := get(EnvFTPUser); ok {
		c.ftpUser = v
		c.ftpPassword, _ = lookup(EnvFTPPassword)
	}
	if v, ok := get(EnvFTPType); ok {
		c.ftpType = strings.ToLower(v)
	}
	if v, ok := get(EnvTLSInsecure); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvTLSInsecure, v, err)
		}
		c.tls.InsecureSkipVerify = b
	}
	if v, ok := get(EnvTLSClientCert); ok {
		c.tls.ClientCertificate = expandHome(v)
		c.tls.ClientCertificatePassword, _ = lookup(EnvTLSClientCertPwd)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.ftpType {
	case "binary", "ascii":
	default:
		return fmt.Errorf("invalid ftp type %q: want binary or ascii", c.ftpType)
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" {
		return xdg.Home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(xdg.Home, p[2:])
	}
	return p
}
