package scan

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "100ms" as well as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		dur, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: parse duration %q: %w", s, err)
		}
		*d = Duration(dur)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: duration must be a string or integer nanoseconds")
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level scanner configuration.
type Config struct {
	Registry RegistryConfig `yaml:"registry"`
	Classify ClassifyConfig `yaml:"classify"`
	Watch    WatchConfig    `yaml:"watch"`
	Catalog  string         `yaml:"catalog"`  // optional pattern catalog file
	Database string         `yaml:"database"` // optional detections + health db path
	Sinks    []SinkConfig   `yaml:"sinks"`
}

// RegistryConfig controls pattern health thresholds.
type RegistryConfig struct {
	MaxFailures    int     `yaml:"max_failures"`
	MinSuccessRate float64 `yaml:"min_success_rate"`
}

// ClassifyConfig controls scoring and caching.
type ClassifyConfig struct {
	Threshold float64  `yaml:"threshold"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// WatchConfig controls change-driven scanning.
type WatchConfig struct {
	Debounce     Duration `yaml:"debounce"`
	ScanInterval Duration `yaml:"scan_interval"`
	VisibleOnly  bool     `yaml:"visible_only"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | sqlite
	URL  string `yaml:"url"`  // for webhook
	Path string `yaml:"path"` // for sqlite
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Registry.MaxFailures <= 0 {
		c.Registry.MaxFailures = 5
	}
	if c.Registry.MinSuccessRate <= 0 {
		c.Registry.MinSuccessRate = 0.3
	}
	if c.Classify.Threshold <= 0 {
		c.Classify.Threshold = 0.6
	}
	if c.Classify.CacheTTL <= 0 {
		c.Classify.CacheTTL = Duration(2 * time.Second)
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = Duration(100 * time.Millisecond)
	}
	if c.Watch.ScanInterval <= 0 {
		c.Watch.ScanInterval = Duration(2 * time.Second)
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
}
