package config

import (
	"os"
	"path/filepath"
	"testing"

	iface "FusionServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPPort, cfg.HTTPPort)
	assert.Equal(t, DefaultRPCPort, cfg.RPCPort)
	assert.Equal(t, DefaultMonitorPort, cfg.MonitorPort)
	assert.Equal(t, 1, cfg.WorkersNum)
	assert.Equal(t, "production", cfg.LogMode)
	assert.Equal(t, float32(DefaultConf), *cfg.Detector.Conf)
	assert.Equal(t, float32(DefaultIou), *cfg.Detector.Iou)
	assert.Equal(t, DefaultInputSize, cfg.Detector.InputSize)
	assert.False(t, cfg.DetectorEnabled())
	assert.Nil(t, cfg.EngineConfig().Names.Data)
}

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(`
HTTPPort: 8080
RPCPort: 9000
MonitorPort: 9100
workersNum: 1
UseRegServer: true
RegServerHost: 10.0.0.2
RegServerPort: 7000
logMode: development
detector:
  modelPath: models/yolov8n.onnx
  names: [car, pedestrian]
  conf: 0
  iou: 0.5
  inputSize: 1280
  useGPU: true
`))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.True(t, cfg.UseRegServer)
	assert.Equal(t, "10.0.0.2", cfg.RegServerHost)
	assert.True(t, cfg.DetectorEnabled())

	// an explicit zero confidence is kept
	assert.Equal(t, iface.EngineConfig{
		UseGPU:    true,
		ModelPath: "models/yolov8n.onnx",
		Names:     iface.NamesConf{IsFile: false, Data: []string{"car", "pedestrian"}},
		Conf:      0,
		Iou:       0.5,
		InputSize: 1280,
	}, cfg.EngineConfig())
}

func TestNamesFileWins(t *testing.T) {
	cfg, err := Parse([]byte("detector:\n  names: [a]\n  namesFile: kitti.names\n"))
	require.NoError(t, err)
	assert.Equal(t, iface.NamesConf{IsFile: true, Data: "kitti.names"}, cfg.EngineConfig().Names)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"conf":       "detector:\n  conf: 1.5\n",
		"iou":        "detector:\n  iou: -0.1\n",
		"input size": "detector:\n  inputSize: 100\n",
		"port":       "HTTPPort: 70000\n",
		"log mode":   "logMode: verbose\n",
		"registry":   "UseRegServer: true\n",
		"yaml":       "HTTPPort: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestWorkersWarnings(t *testing.T) {
	cfg, err := Parse([]byte("workersNum: -3\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.WorkersNum)
	assert.Contains(t, cfg.Warnings, "Invalid workersNum in config, defaulting to 1")

	cfg, err = Parse([]byte("workersNum: 100000\n"))
	require.NoError(t, err)
	assert.Len(t, cfg.Warnings, 1)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("HTTPPort: 8001\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.HTTPPort)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
