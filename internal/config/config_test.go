package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "motion_streamer.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5000, cfg.ScanTimeoutMS)
	assert.Equal(t, 10000, cfg.StreamDurationMS)
	assert.Equal(t, "Movella", cfg.DeviceNamePrefix)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "motion", cfg.TopicPrefix)
	assert.Empty(t, cfg.DeviceAddresses)
	require.NoError(t, cfg.validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
# streaming setup
SCAN_TIMEOUT_MS=2000
STREAM_DURATION_MS=30000
DEVICE_NAME_PREFIX=Xsens
DEVICE_ADDRESSES=AA:11, AA:22,AA:33
OUTPUT_FILE=out/samples.json
OUTPUT_PRETTY=true
WEB_SERVER_PORT=9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.ScanTimeoutMS)
	assert.Equal(t, 30000, cfg.StreamDurationMS)
	assert.Equal(t, "Xsens", cfg.DeviceNamePrefix)
	assert.Equal(t, []string{"AA:11", "AA:22", "AA:33"}, cfg.DeviceAddresses)
	assert.Equal(t, "out/samples.json", cfg.OutputFile)
	assert.True(t, cfg.OutputPretty)
	assert.Equal(t, 9090, cfg.WebServerPort)

	// Untouched keys keep their defaults.
	assert.Equal(t, 10000, cfg.ConnectTimeoutMS)
	assert.Equal(t, "motion", cfg.TopicPrefix)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, "NOT_A_KEY=1\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []string{
		"SCAN_TIMEOUT_MS=abc\n",
		"SCAN_TIMEOUT_MS=0\n",
		"STREAM_DURATION_MS=-5\n",
		"WEB_SERVER_PORT=70000\n",
		"OUTPUT_PRETTY=maybe\n",
		"just a line\n",
	}
	for _, content := range cases {
		path := writeConfig(t, content)
		_, err := Load(path)
		assert.Error(t, err, "content %q", content)
	}
}

func TestLoadRejectsEmptyPrefix(t *testing.T) {
	path := writeConfig(t, "DEVICE_NAME_PREFIX=\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEVICE_NAME_PREFIX")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.conf"))
	assert.Error(t, err)
}
