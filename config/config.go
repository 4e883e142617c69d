package config

import (
	"fmt"
	"os"
	"runtime"

	iface "FusionServer/interface"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHTTPPort    = 8000
	DefaultRPCPort     = 50051
	DefaultMonitorPort = 50053
	DefaultConf        = 0.25
	DefaultIou         = 0.45
	DefaultInputSize   = 640
)

type DetectorConfig struct {
	ModelPath string   `yaml:"modelPath"`
	Names     []string `yaml:"names"`
	NamesFile string   `yaml:"namesFile"`
	Conf      *float32 `yaml:"conf"`
	Iou       *float32 `yaml:"iou"`
	InputSize int      `yaml:"inputSize"`
	UseGPU    bool     `yaml:"useGPU"`
}

type Config struct {
	HTTPPort      int            `yaml:"HTTPPort"`
	RPCPort       int            `yaml:"RPCPort"`
	MonitorPort   int            `yaml:"MonitorPort"`
	WorkersNum    int            `yaml:"workersNum"`
	UseRegServer  bool           `yaml:"UseRegServer"`
	RegServerHost string         `yaml:"RegServerHost"`
	RegServerPort int            `yaml:"RegServerPort"`
	LogMode       string         `yaml:"logMode"`
	Detector      DetectorConfig `yaml:"detector"`

	// Warnings collects non fatal findings of Load for the caller to log.
	Warnings []string `yaml:"-"`
}

// Load reads path, fills defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPPort == 0 {
		c.HTTPPort = DefaultHTTPPort
	}
	if c.RPCPort == 0 {
		c.RPCPort = DefaultRPCPort
	}
	if c.MonitorPort == 0 {
		c.MonitorPort = DefaultMonitorPort
	}
	if c.WorkersNum <= 0 {
		if c.WorkersNum < 0 {
			c.Warnings = append(c.Warnings, "Invalid workersNum in config, defaulting to 1")
		}
		c.WorkersNum = 1
	}
	if c.LogMode == "" {
		c.LogMode = "production"
	}
	d := &c.Detector
	if d.Conf == nil {
		v := float32(DefaultConf)
		d.Conf = &v
	}
	if d.Iou == nil {
		v := float32(DefaultIou)
		d.Iou = &v
	}
	if d.InputSize == 0 {
		d.InputSize = DefaultInputSize
	}
}

func (c *Config) validate() error {
	for name, port := range map[string]int{"HTTPPort": c.HTTPPort, "RPCPort": c.RPCPort, "MonitorPort": c.MonitorPort} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}
	if *c.Detector.Conf < 0 || *c.Detector.Conf > 1 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %f", *c.Detector.Conf)
	}
	if *c.Detector.Iou < 0 || *c.Detector.Iou > 1 {
		return fmt.Errorf("IoU must be between 0.0 and 1.0, got %f", *c.Detector.Iou)
	}
	if c.Detector.InputSize < 32 || c.Detector.InputSize%32 != 0 {
		return fmt.Errorf("inputSize must be a positive multiple of 32, got %d", c.Detector.InputSize)
	}
	if c.LogMode != "production" && c.LogMode != "development" {
		return fmt.Errorf("logMode must be production or development, got %q", c.LogMode)
	}
	if c.UseRegServer && (c.RegServerHost == "" || c.RegServerPort == 0) {
		return fmt.Errorf("UseRegServer requires RegServerHost and RegServerPort")
	}
	if c.WorkersNum > runtime.NumCPU() {
		c.Warnings = append(c.Warnings, "Please noted that workersNum exceeds CPU cores, which may lead to performance degradation.")
	}
	return nil
}

// DetectorEnabled reports whether a model is configured.
func (c *Config) DetectorEnabled() bool {
	return c.Detector.ModelPath != ""
}

// EngineConfig converts the detector block for the engine.
func (c *Config) EngineConfig() iface.EngineConfig {
	d := c.Detector
	names := iface.NamesConf{IsFile: false, Data: d.Names}
	if d.NamesFile != "" {
		names = iface.NamesConf{IsFile: true, Data: d.NamesFile}
	} else if len(d.Names) == 0 {
		names.Data = nil
	}
	return iface.EngineConfig{
		UseGPU:    d.UseGPU,
		ModelPath: d.ModelPath,
		Names:     names,
		Conf:      *d.Conf,
		Iou:       *d.Iou,
		InputSize: d.InputSize,
	}
}
