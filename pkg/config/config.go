package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lipingxue/docker-volume-vsphere/pkg/log"
)

// DefaultPath is where the daemon looks for its configuration when no
// --config flag is given.
const DefaultPath = "/etc/vmware/vmdkops/config.yaml"

// Config holds the daemon configuration. Every field has a working default;
// a missing config file is not an error.
type Config struct {
	// Port is the vSocket port the service loop listens on.
	Port int `yaml:"port"`

	// DatastoreRoot is the mount root under which datastores appear.
	DatastoreRoot string `yaml:"datastore_root"`

	// VolumesDir is the per-datastore directory holding volume vmdks.
	VolumesDir string `yaml:"volumes_dir"`

	// AuthDBPath is the path of the vmgroup authorization database. Empty
	// means no access control: every VM may do everything.
	AuthDBPath string `yaml:"auth_db_path"`

	// MaxRequestSize bounds a single inbound request buffer in bytes.
	MaxRequestSize int `yaml:"max_request_size"`

	// MaxReceiveRetries bounds consecutive transient transport failures
	// before the service loop gives up.
	MaxReceiveRetries int `yaml:"max_receive_retries"`

	// HostdURL is the SDK endpoint of the local host daemon.
	HostdURL string `yaml:"hostd_url"`

	// MetricsAddr, when set, exposes Prometheus metrics over HTTP.
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Port:              1019,
		DatastoreRoot:     "/vmfs/volumes",
		VolumesDir:        "dockvols",
		MaxRequestSize:    4 * 1024,
		MaxReceiveRetries: 16,
		HostdURL:          "https://localhost/sdk",
		LogLevel:          string(log.InfoLevel),
		LogJSON:           true,
	}
}

// Load reads the YAML config at path, applied on top of the defaults. A
// missing file returns the defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("invalid max_request_size %d", c.MaxRequestSize)
	}
	if c.MaxReceiveRetries <= 0 {
		return fmt.Errorf("invalid max_receive_retries %d", c.MaxReceiveRetries)
	}
	return nil
}
