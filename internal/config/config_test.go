package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
cameras:
  - id: cam0
    name: Front Door
    stream_uri: rtsp://127.0.0.1/cam0
sync_endpoint: https://cloud.example.com/ingest
detector_model_path: /models/detector.onnx
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := New(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 300, cfg.MetricWindowS)
	assert.Len(t, cfg.Cameras, 1)
	assert.Equal(t, 1000, cfg.Cameras[0].FrameIntervalMS)
	assert.Equal(t, 10, cfg.Cameras[0].KeyFrameIntervalS)
}

func TestLoadRejectsMissingCameras(t *testing.T) {
	path := writeConfig(t, `
sync_endpoint: https://cloud.example.com/ingest
detector_model_path: /models/detector.onnx
`)
	_, err := New(path).Load()
	assert.Error(t, err)
}

func TestLoadRejectsMissingSyncEndpoint(t *testing.T) {
	path := writeConfig(t, `
cameras:
  - id: cam0
    stream_uri: rtsp://127.0.0.1/cam0
detector_model_path: /models/detector.onnx
`)
	_, err := New(path).Load()
	assert.Error(t, err)
}

func TestMetricWindowHelper(t *testing.T) {
	cfg := Config{MetricWindowS: 60}
	assert.Equal(t, 60.0, cfg.MetricWindow().Seconds())
}
