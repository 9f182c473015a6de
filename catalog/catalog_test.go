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

package catalog

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iotbzh/cloudsync/model"
	"github.com/iotbzh/cloudsync/store"
)

// memStore is an in-memory store.Client used to test catalog refresh and
// bootstrap without a real Redis instance.
type memStore struct {
	name    string
	series  map[string]store.SeriesInfo
	scalars map[string][]byte
	rules   map[string]string
	created []string
}

func newMemStore(name string) *memStore {
	return &memStore{
		name:    name,
		series:  map[string]store.SeriesInfo{},
		scalars: map[string][]byte{},
		rules:   map[string]string{},
	}
}

func (m *memStore) Name() string { return m.name }

func (m *memStore) KeysMatching(_ context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	for k := range m.series {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	for k := range m.scalars {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) SeriesInfo(_ context.Context, fullName string) (store.SeriesInfo, error) {
	return m.series[fullName], nil
}

func (m *memStore) ScalarGet(_ context.Context, fullName string) ([]byte, error) {
	return m.scalars[fullName], nil
}

func (m *memStore) ScalarSet(_ context.Context, fullName string, value []byte) error {
	m.scalars[fullName] = value
	return nil
}

func (m *memStore) ScalarDelete(_ context.Context, fullName string) error {
	delete(m.scalars, fullName)
	return nil
}

func (m *memStore) SeriesCreate(_ context.Context, fullName string, _ map[string]string) error {
	m.series[fullName] = store.SeriesInfo{}
	m.created = append(m.created, fullName)
	return nil
}

func (m *memStore) SeriesCreateRule(_ context.Context, src, dst, aggregator string, bucketMs int64) error {
	m.rules[src] = dst
	return nil
}

func (m *memStore) SeriesRangeByLabel(_ context.Context, start, end model.Timestamp, labelSelector string) ([]model.SeriesSamples, error) {
	return nil, nil
}

func (m *memStore) SeriesMultiAdd(_ context.Context, fullName string, samples []model.Sample) ([]model.SampleWriteResult, error) {
	return nil, nil
}

func TestRefreshGlobalWindow(t *testing.T) {
	local := newMemStore("local")
	local.series["SIEMENS_ET200SP.a"] = store.SeriesInfo{FirstTs: 10, LastTs: 200, TotalSamples: 5}
	local.series["SIEMENS_ET200SP.b"] = store.SeriesInfo{FirstTs: 0, LastTs: 150, TotalSamples: 7}

	ctx := context.Background()
	cat, err := Refresh(ctx, local, "SIEMENS_ET200SP", "SIEMENS_ET200SP_SCALAR", true)
	require.NoError(t, err)

	first, last := cat.GlobalWindow()
	require.Equal(t, model.Timestamp(0), first)
	require.Equal(t, model.Timestamp(200), last)
	require.Equal(t, uint64(12), cat.TotalSamples())
	require.Equal(t, "a", cat.Series["SIEMENS_ET200SP.a"].ShortName)
}

func TestBootstrapCreatesMissingSeriesAndScalars(t *testing.T) {
	local := newMemStore("local")
	local.series["SIEMENS_ET200SP.a"] = store.SeriesInfo{FirstTs: 0, LastTs: 100, TotalSamples: 3}
	local.scalars["SIEMENS_ET200SP_SCALAR.unit"] = []byte("celsius")

	remote := newMemStore("remote")

	ctx := context.Background()
	localCat, err := Refresh(ctx, local, "SIEMENS_ET200SP", "SIEMENS_ET200SP_SCALAR", true)
	require.NoError(t, err)
	remoteCat, err := Refresh(ctx, remote, "SIEMENS_ET200SP", "SIEMENS_ET200SP_SCALAR", false)
	require.NoError(t, err)

	result, err := Bootstrap(ctx, nil, local, remote, localCat, remoteCat, "SIEMENS_ET200SP", CompactionConfig{
		Enabled:    true,
		KeySuffix:  "_1h",
		Aggregator: "avg",
		BucketMs:   3600000,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.KeysCreated)
	require.Equal(t, 1, result.RulesCreated)

	require.Contains(t, remote.created, "SIEMENS_ET200SP.a")
	require.Contains(t, remote.created, "SIEMENS_ET200SP_1h.a")
	require.Equal(t, "SIEMENS_ET200SP_1h.a", remote.rules["SIEMENS_ET200SP.a"])
	require.Equal(t, []byte("celsius"), remote.scalars["SIEMENS_ET200SP_SCALAR.unit"])
}

func TestCompactionSeriesNameSubstitution(t *testing.T) {
	require.Equal(t, "SIEMENS_ET200SP_1h.a", compactionSeriesName("SIEMENS_ET200SP.a", "SIEMENS_ET200SP", "_1h"))
}
