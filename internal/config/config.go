// Package config holds the sweep configuration assembled from flags
// and an optional YAML file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full operator-supplied configuration for one sweep.
type Config struct {
	// Cluster connection.
	Hosts    []string `yaml:"hosts"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	CACert   string   `yaml:"cacert"`

	// Sweep shape. Timeout is in seconds, as on the command line.
	Timeout       int      `yaml:"timeout"`
	Concurrency   int      `yaml:"concurrency"`
	Processes     int      `yaml:"processes"`
	PartitionSize int      `yaml:"partitionsize"`
	Keyspaces     []string `yaml:"keyspaces"`
	Tables        []string `yaml:"tables"`

	// Observability.
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Default returns the configuration the flags default to.
func Default() Config {
	return Config{
		Timeout:       60,
		Concurrency:   100,
		Processes:     5,
		PartitionSize: 10000,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// LoadFile overlays values from a YAML file onto c. Flags parsed after
// the file still win; the file only replaces what it names.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

// Validate fails fast on configuration that would produce a degenerate
// sweep, before any cluster interaction is attempted.
func (c Config) Validate() error {
	if len(c.Hosts) == 0 {
		return errors.New("at least one contact point is required (--hosts)")
	}
	for _, h := range c.Hosts {
		if strings.TrimSpace(h) == "" {
			return errors.New("contact points must not contain empty hosts")
		}
	}
	if c.Timeout < 1 {
		return errors.Newf("request timeout must be at least 1 second, got %d", c.Timeout)
	}
	if c.Concurrency < 1 {
		return errors.Newf("query concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Processes < 1 {
		return errors.Newf("table parallelism must be at least 1, got %d", c.Processes)
	}
	if c.PartitionSize < 1 {
		return errors.Newf("partition size must be at least 1, got %d", c.PartitionSize)
	}
	return nil
}

// RequestTimeout returns the per-range-query timeout as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// SplitList parses a comma-separated flag value into trimmed non-empty
// entries.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
