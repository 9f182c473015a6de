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

package supervisor

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iotbzh/cloudsync/bandwidth"
	"github.com/iotbzh/cloudsync/model"
	"github.com/iotbzh/cloudsync/store"
)

// memStore is a minimal in-memory store.Client sufficient to exercise one
// full start/stop cycle of the supervisor.
type memStore struct {
	mu      sync.Mutex
	name    string
	series  map[string][]model.Sample
	scalars map[string][]byte
}

func newMemStore(name string) *memStore {
	return &memStore{name: name, series: map[string][]model.Sample{}, scalars: map[string][]byte{}}
}

func (m *memStore) Name() string { return m.name }

func (m *memStore) KeysMatching(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.series {
		out = append(out, k)
	}
	for k := range m.scalars {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) SeriesInfo(_ context.Context, fullName string) (store.SeriesInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	samples := m.series[fullName]
	if len(samples) == 0 {
		return store.SeriesInfo{}, nil
	}
	return store.SeriesInfo{FirstTs: samples[0].Ts, LastTs: samples[len(samples)-1].Ts, TotalSamples: uint64(len(samples))}, nil
}

func (m *memStore) ScalarGet(_ context.Context, fullName string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scalars[fullName], nil
}

func (m *memStore) ScalarSet(_ context.Context, fullName string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scalars[fullName] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) ScalarDelete(_ context.Context, fullName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scalars, fullName)
	return nil
}

func (m *memStore) SeriesCreate(_ context.Context, fullName string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.series[fullName]; !ok {
		m.series[fullName] = nil
	}
	return nil
}

func (m *memStore) SeriesCreateRule(_ context.Context, _, _, _ string, _ int64) error { return nil }

func (m *memStore) SeriesRangeByLabel(_ context.Context, start, end model.Timestamp, _ string) ([]model.SeriesSamples, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.series {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []model.SeriesSamples
	for _, name := range names {
		var in []model.Sample
		for _, s := range m.series[name] {
			if s.Ts >= start && s.Ts <= end {
				in = append(in, s)
			}
		}
		out = append(out, model.SeriesSamples{FullName: name, Samples: in})
	}
	return out, nil
}

func (m *memStore) SeriesMultiAdd(_ context.Context, fullName string, samples []model.Sample) ([]model.SampleWriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]model.SampleWriteResult, len(samples))
	for i, s := range samples {
		results[i] = model.SampleWriteResult{FullName: fullName, Ts: s.Ts}
	}
	return results, nil
}

func TestStartStopLifecycleNoLeakedGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	local := newMemStore("local")
	local.series["K.a"] = []model.Sample{{Ts: 0, Value: 1}, {Ts: 50, Value: 2}}
	remote := newMemStore("remote")

	sup := New(local, remote, nil, nil, nil, Params{
		KeyLabelTs:      "K",
		KeyLabel:        "K_SCALAR",
		IntervalSize:    100,
		IntervalCount:   -1,
		PollInterval:    10 * time.Millisecond,
		BandwidthLevel:  bandwidth.Medium,
		BandwidthQuotas: bandwidth.Quotas{bandwidth.Medium: bandwidth.Unlimited},
	})

	require.Equal(t, Idle, sup.State())
	sup.Start(context.Background())
	require.Eventually(t, func() bool {
		info := sup.Info()
		return info != nil && info.IsFinished()
	}, time.Second, time.Millisecond)

	require.Equal(t, 1, sup.CurrentPlan().TotalCount)
	require.NotNil(t, sup.LocalCatalog())

	sup.Stop()
	require.Equal(t, Idle, sup.State())
}

func TestStartIsIdempotentOnRunning(t *testing.T) {
	local := newMemStore("local")
	remote := newMemStore("remote")
	sup := New(local, remote, nil, nil, nil, Params{
		KeyLabelTs:      "K",
		KeyLabel:        "K_SCALAR",
		IntervalSize:    100,
		IntervalCount:   -1,
		PollInterval:    time.Hour,
		BandwidthLevel:  bandwidth.Medium,
		BandwidthQuotas: bandwidth.Quotas{bandwidth.Medium: bandwidth.Unlimited},
	})

	sup.Start(context.Background())
	sup.Start(context.Background())
	require.Equal(t, Running, sup.State())
	sup.Stop()
	sup.Stop()
	require.Equal(t, Idle, sup.State())
}
