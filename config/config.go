// Copyright 2024 The cloudsync Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the YAML configuration file, and
// watches it for changes so the supervisor can pick up poll-cadence and
// bandwidth-quota edits without a restart.
package config

import (
	"io/ioutil"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/iotbzh/cloudsync/bandwidth"
)

// Endpoint is a host/port pair for one store connection.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CompactionConfig mirrors sync.compaction in the YAML file.
type CompactionConfig struct {
	Enabled        bool   `yaml:"enabled"`
	KeySuffix      string `yaml:"key_suffix"`
	BucketDuration int64  `yaml:"bucket_duration"`
	Aggregator     string `yaml:"aggregator"`
}

// BandwidthConfig carries the human-readable byte-rate quota per level.
type BandwidthConfig struct {
	Quotas map[string]string `yaml:"quotas"`
}

// EndpointDiscoveryConfig selects and configures how the remote store's
// address is resolved.
type EndpointDiscoveryConfig struct {
	Backend       string `yaml:"backend"`
	DNSName       string `yaml:"dns_name"`
	ConsulService string `yaml:"consul_service"`
}

// TracingConfig configures the opentracing tracer.
type TracingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AgentAddr string `yaml:"agent_addr"`
}

// DiagnosticsConfig configures the snapshot exporter.
type DiagnosticsConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// SyncConfig is the `sync:` YAML section.
type SyncConfig struct {
	Autostart            bool                    `yaml:"autostart"`
	DBPollFreq           int64                   `yaml:"db_poll_freq"`
	TimeIntervalSize     int64                   `yaml:"time_interval_size"`
	TimeIntervalNb       int                     `yaml:"time_interval_nb"`
	TimeIntervalStartIdx int                     `yaml:"time_interval_start_idx"`
	KeyLabelTs           string                  `yaml:"key_label_ts"`
	KeyLabel             string                  `yaml:"key_label"`
	Compaction           CompactionConfig        `yaml:"compaction"`
	Bandwidth            BandwidthConfig         `yaml:"bandwidth"`
	EndpointDiscovery    EndpointDiscoveryConfig `yaml:"endpoint_discovery"`
	Tracing              TracingConfig           `yaml:"tracing"`
	Diagnostics          DiagnosticsConfig       `yaml:"diagnostics"`
}

// HTTPConfig configures the RPC shell and metrics listener.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the root of the YAML file.
type Config struct {
	Verbosity string `yaml:"verbosity"`
	Databases struct {
		RedisLocal Endpoint `yaml:"redis-local"`
		RedisCloud Endpoint `yaml:"redis-cloud"`
	} `yaml:"databases"`
	Sync SyncConfig `yaml:"sync"`
	HTTP HTTPConfig `yaml:"http"`
}

// PollInterval returns db_poll_freq as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sync.DBPollFreq) * time.Second
}

// Load reads and parses the YAML file at path and validates the fields
// the engine cannot run without. Malformed or incomplete configuration
// aborts startup.
func Load(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: reading %s", path)
	}

	cfg := &Config{
		Sync: SyncConfig{
			TimeIntervalNb: -1,
		},
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parsing %s", path)
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "config: validating %s", path)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Databases.RedisLocal.Host == "" {
		return errors.New("databases.redis-local.host is required")
	}
	if c.Databases.RedisCloud.Host == "" && c.Sync.EndpointDiscovery.Backend == "" {
		return errors.New("databases.redis-cloud.host is required unless sync.endpoint_discovery.backend is set")
	}
	if c.Sync.KeyLabelTs == "" {
		return errors.New("sync.key_label_ts is required")
	}
	if c.Sync.KeyLabel == "" {
		return errors.New("sync.key_label is required")
	}
	if c.Sync.TimeIntervalSize <= 0 {
		return errors.New("sync.time_interval_size must be positive")
	}
	if c.Sync.DBPollFreq <= 0 {
		return errors.New("sync.db_poll_freq must be positive")
	}
	switch c.Sync.EndpointDiscovery.Backend {
	case "", "static":
	case "dns":
		if c.Sync.EndpointDiscovery.DNSName == "" {
			return errors.New("sync.endpoint_discovery.dns_name is required for backend \"dns\"")
		}
	case "consul":
		if c.Sync.EndpointDiscovery.ConsulService == "" {
			return errors.New("sync.endpoint_discovery.consul_service is required for backend \"consul\"")
		}
	default:
		return errors.Errorf("sync.endpoint_discovery.backend: unknown backend %q", c.Sync.EndpointDiscovery.Backend)
	}
	return nil
}

// BandwidthQuotas parses sync.bandwidth.quotas into the byte-rate table
// the limiter consumes, using alecthomas/units to accept human-readable
// sizes like "256KB". The literal string "unlimited" maps to
// bandwidth.Unlimited.
func (c *Config) BandwidthQuotas() (bandwidth.Quotas, error) {
	quotas := bandwidth.Quotas{
		bandwidth.None:   0,
		bandwidth.Low:    64 * 1024,
		bandwidth.Medium: 512 * 1024,
		bandwidth.High:   bandwidth.Unlimited,
	}
	for name, raw := range c.Sync.Bandwidth.Quotas {
		lvl, err := bandwidth.ParseLevel(name)
		if err != nil {
			return nil, errors.Wrapf(err, "sync.bandwidth.quotas.%s", name)
		}
		if raw == "unlimited" {
			quotas[lvl] = bandwidth.Unlimited
			continue
		}
		n, err := parseByteRate(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "sync.bandwidth.quotas.%s=%q", name, raw)
		}
		quotas[lvl] = n
	}
	return quotas, nil
}

// exists reports whether path names a regular file. The watcher uses it
// to ignore the editor-swapfile churn fsnotify otherwise surfaces as
// spurious reload attempts.
func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
