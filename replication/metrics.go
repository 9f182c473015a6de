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

package replication

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments one replication engine: counters for volume and
// failure, gauges for the driver's current position in the plan.
// Registered once at process startup against the engine's registry.
type Metrics struct {
	reg prometheus.Registerer

	samplesReplicated     prometheus.Counter
	samplesFailed         prometheus.Counter
	samplesSkippedEmpty   prometheus.Counter
	bootstrapKeysCreated  prometheus.Counter
	bootstrapRulesCreated prometheus.Counter
	intervalIndex         prometheus.Gauge
	planSize              prometheus.Gauge
	bandwidthQuota        prometheus.Gauge
}

// NewMetrics constructs the metric instruments without registering them.
// reg may be nil, in which case register/unregister are no-ops, useful
// for tests and for a Driver whose instruments are not exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		reg: reg,
		samplesReplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudsync",
			Name:      "samples_replicated_total",
			Help:      "Total number of samples successfully written to the remote store.",
		}),
		samplesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudsync",
			Name:      "samples_failed_total",
			Help:      "Total number of per-sample write replies carrying an error.",
		}),
		samplesSkippedEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudsync",
			Name:      "samples_skipped_empty_total",
			Help:      "Total number of series encountered with zero samples in an interval.",
		}),
		bootstrapKeysCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudsync",
			Name:      "bootstrap_keys_created_total",
			Help:      "Total number of series keys (including compaction series) created on the remote during bootstrap.",
		}),
		bootstrapRulesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudsync",
			Name:      "bootstrap_rules_created_total",
			Help:      "Total number of compaction rules created on the remote during bootstrap.",
		}),
		intervalIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloudsync",
			Name:      "interval_index",
			Help:      "Index of the interval currently being processed.",
		}),
		planSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloudsync",
			Name:      "plan_size",
			Help:      "Total number of intervals in the current plan.",
		}),
		bandwidthQuota: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloudsync",
			Name:      "bandwidth_quota_bytes_per_second",
			Help:      "Resolved byte-rate quota for the active bandwidth level (-1 means unlimited).",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.samplesReplicated,
		m.samplesFailed,
		m.samplesSkippedEmpty,
		m.bootstrapKeysCreated,
		m.bootstrapRulesCreated,
		m.intervalIndex,
		m.planSize,
		m.bandwidthQuota,
	}
}

// Register registers every instrument with the configured registerer. A
// nil registerer (as used by tests) makes this a no-op.
func (m *Metrics) Register() {
	if m.reg == nil {
		return
	}
	for _, c := range m.collectors() {
		m.reg.MustRegister(c)
	}
}

// Unregister removes every instrument from the configured registerer.
func (m *Metrics) Unregister() {
	if m.reg == nil {
		return
	}
	for _, c := range m.collectors() {
		m.reg.Unregister(c)
	}
}

// AddBootstrapCounts feeds a catalog.BootstrapResult into the bootstrap
// counters, keeping catalog free of a dependency on this package.
func (m *Metrics) AddBootstrapCounts(keysCreated, rulesCreated int) {
	m.bootstrapKeysCreated.Add(float64(keysCreated))
	m.bootstrapRulesCreated.Add(float64(rulesCreated))
}

// SetBandwidthQuota records the resolved byte-rate quota for the active
// bandwidth level (bandwidth.Unlimited for unthrottled).
func (m *Metrics) SetBandwidthQuota(bytesPerSecond int64) {
	m.bandwidthQuota.Set(float64(bytesPerSecond))
}
