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

package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iotbzh/cloudsync/bandwidth"
)

const validYAML = `
verbosity: info
databases:
  redis-local:
    host: 127.0.0.1
    port: 6379
  redis-cloud:
    host: cloud.example.com
    port: 6380
sync:
  autostart: true
  db_poll_freq: 30
  time_interval_size: 60000
  time_interval_nb: -1
  key_label_ts: SIEMENS_ET200SP
  key_label: SIEMENS_ET200SP_SCALAR
  compaction:
    enabled: true
    key_suffix: "_1h"
    bucket_duration: 3600000
    aggregator: avg
  bandwidth:
    quotas:
      low: 64KB
      medium: 512KB
      high: unlimited
http:
  listen_addr: ":9201"
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cloudsync.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1", cfg.Databases.RedisLocal.Host)
	require.Equal(t, 6380, cfg.Databases.RedisCloud.Port)
	require.Equal(t, "SIEMENS_ET200SP", cfg.Sync.KeyLabelTs)
	require.Equal(t, -1, cfg.Sync.TimeIntervalNb)

	quotas, err := cfg.BandwidthQuotas()
	require.NoError(t, err)
	require.Equal(t, int64(64*1024), quotas[bandwidth.Low])
	require.Equal(t, bandwidth.Unlimited, quotas[bandwidth.High])
}

func TestLoadMissingRequiredFieldFails(t *testing.T) {
	path := writeTemp(t, `
databases:
  redis-local:
    host: ""
sync:
  key_label_ts: x
  key_label: y
  time_interval_size: 1
  db_poll_freq: 1
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadUnknownDiscoveryBackendFails(t *testing.T) {
	path := writeTemp(t, `
databases:
  redis-local:
    host: 127.0.0.1
sync:
  key_label_ts: x
  key_label: y
  time_interval_size: 1
  db_poll_freq: 1
  endpoint_discovery:
    backend: eureka
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(os.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
