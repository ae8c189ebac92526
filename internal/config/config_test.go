package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
gb28181-nvr:
  device:
    id: "81000000465001000001"
    name: "test-nvr"
  sip:
    server: "192.168.1.10"
    port: 5060
    local_ip: "192.168.1.20"
    username: "81000000465001000001"
    password: "admin123"
    realm: "3402000000"
  catalog:
    stream_directory: "/var/media"
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "81000000465001000001", cfg.Device.ID)
	require.Equal(t, "udp", cfg.Sip.Transport)
	require.Equal(t, 5080, cfg.Sip.LocalPort)
	require.Equal(t, 3600, cfg.Sip.RegisterExpires)
	require.Equal(t, 30, cfg.Sip.KeepaliveInterval)
	require.Equal(t, 20, cfg.Catalog.MaxItems)
	require.Equal(t, "192.168.1.20", cfg.Sip.ContactIP) // falls back to local_ip
	require.Contains(t, cfg.Streaming.Presets, "default")
}

func TestLoadRejectsShortDeviceID(t *testing.T) {
	path := writeTempConfig(t, `
gb28181-nvr:
  device:
    id: "12345"
  sip:
    server: "192.168.1.10"
    local_ip: "192.168.1.20"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingServer(t *testing.T) {
	path := writeTempConfig(t, `
gb28181-nvr:
  device:
    id: "81000000465001000001"
`)
	_, err := Load(path)
	require.Error(t, err)
}
