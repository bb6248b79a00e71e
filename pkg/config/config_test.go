package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestInitDefaults(t *testing.T) {
	c := Init()
	assert.Equal(t, 30*time.Second, c.GetConnectTimeout())
	assert.Equal(t, 60*time.Second, c.GetIOTimeout())
	assert.Equal(t, 64, c.GetEventBuffer())
	assert.Equal(t, 4, c.GetParallel())
	assert.Equal(t, "binary", c.GetFTPType())
	assert.NotEmpty(t, c.GetDownloadDir())
	assert.Contains(t, c.GetUserAgent(), "xfer/")
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
connectTimeoutMs: 1500
ioTimeoutMs: 2500
parallel: 2
downloadDir: /srv/downloads
userAgent: mirror-bot/1.0
ftp:
  user: alice
  password: s3cret
  type: ASCII
tls:
  insecureSkipVerify: true
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, c.GetConnectTimeout())
	assert.Equal(t, 2500*time.Millisecond, c.GetIOTimeout())
	assert.Equal(t, 2, c.GetParallel())
	assert.Equal(t, 64, c.GetEventBuffer())
	assert.Equal(t, "/srv/downloads", c.GetDownloadDir())
	assert.Equal(t, "mirror-bot/1.0", c.GetUserAgent())
	assert.Equal(t, "alice", c.GetFTPUser())
	assert.Equal(t, "s3cret", c.GetFTPPassword())
	assert.Equal(t, "ascii", c.GetFTPType())
	assert.True(t, c.GetTLS().InsecureSkipVerify)
	assert.Equal(t, path, c.GetConfigFile())
}

func TestEnvironmentWins(t *testing.T) {
	path := writeConfig(t, "parallel: 2\nftp:\n  user: alice\n  password: s3cret\n")
	t.Setenv(EnvParallel, "8")
	t.Setenv(EnvFTPUser, "bob")
	t.Setenv(EnvFTPPassword, "hunter2")
	t.Setenv(EnvConnectTimeoutMs, "100")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, c.GetParallel())
	assert.Equal(t, "bob", c.GetFTPUser())
	assert.Equal(t, "hunter2", c.GetFTPPassword())
	assert.Equal(t, 100*time.Millisecond, c.GetConnectTimeout())
}

func TestDotEnvNextToConfig(t *testing.T) {
	path := writeConfig(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte(EnvEventBuffer+"=7\n"), 0644))
	t.Cleanup(func() { _ = os.Unsetenv(EnvEventBuffer) })

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, c.GetEventBuffer())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "parallel: [oops"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "ftp:\n  type: ebcdic\n"))
	assert.Error(t, err)

	t.Setenv(EnvParallel, "many")
	_, err = Load(writeConfig(t, ""))
	assert.Error(t, err)
}

func TestFreeze(t *testing.T) {
	c := Init()
	c.SetParallel(1)
	c.Freeze()
	assert.Panics(t, func() { c.SetParallel(2) })
}

func TestTLSConfig(t *testing.T) {
	c := Init()
	cfg, err := c.TLSConfig()
	require.NoError(t, err)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Empty(t, cfg.Certificates)

	c.tls.ClientCertificate = filepath.Join(t.TempDir(), "missing.p12")
	_, err = c.TLSConfig()
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.p12")
	require.NoError(t, os.WriteFile(bad, []byte("not pkcs12"), 0600))
	c.tls.ClientCertificate = bad
	_, err = c.TLSConfig()
	assert.Error(t, err)
}
