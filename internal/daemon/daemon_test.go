package daemon

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
  channels:
    - channel_id: "81000000465001000101"
      name: "front-door"
      url: "rtsp://192.168.1.30/stream1"
      enabled: true
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestNewBuildsCatalogFromConfiguredChannels(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	dev, err := New(path)
	require.NoError(t, err)

	require.Equal(t, 1, dev.CatalogChannelCount())
	require.False(t, dev.ScanInProgress())
	require.True(t, dev.LastScanAt().IsZero())
}

func TestStatusProviderDefaultsBeforeStart(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	dev, err := New(path)
	require.NoError(t, err)

	require.Equal(t, "unregistered", dev.RegistrationState())
	require.Equal(t, 0, dev.ActiveSessionCount())
	require.Zero(t, dev.RegistrationAge())
}

func TestReloadPicksUpConfigChanges(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	dev, err := New(path)
	require.NoError(t, err)

	updated := sampleYAML + "\n  log:\n    level: \"debug\"\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, dev.Reload())
	require.Equal(t, "debug", dev.cfg.Log.Level)
}

func TestShutdownRequestedClosesOnce(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	dev, err := New(path)
	require.NoError(t, err)

	ch := dev.ShutdownRequested()
	dev.requestShutdown()
	dev.requestShutdown() // must not panic on double-close

	select {
	case <-ch:
	default:
		t.Fatal("expected shutdown channel to be closed")
	}
}
