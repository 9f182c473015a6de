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

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iotbzh/cloudsync/model"
	"github.com/iotbzh/cloudsync/planner"
	"github.com/iotbzh/cloudsync/store"
	"github.com/iotbzh/cloudsync/syncinfo"
)

// fakeStore is an in-memory store.Client standing in for both local and
// remote stores in driver tests. SeriesRangeByLabel always returns series
// in ascending fullName order, giving the deterministic ordering the
// determinism guard relies on, unless reorder is set, which simulates
// the fault-injection scenario of a store that reorders keys across
// calls.
type fakeStore struct {
	name    string
	series  map[string][]model.Sample
	scalars map[string][]byte
	written map[string][]model.Sample
	reorder bool
}

func newFakeStore(name string) *fakeStore {
	return &fakeStore{
		name:    name,
		series:  map[string][]model.Sample{},
		scalars: map[string][]byte{},
		written: map[string][]model.Sample{},
	}
}

func (f *fakeStore) Name() string { return f.name }

func (f *fakeStore) KeysMatching(_ context.Context, _ string) ([]string, error) { return nil, nil }

func (f *fakeStore) SeriesInfo(_ context.Context, fullName string) (store.SeriesInfo, error) {
	samples := f.series[fullName]
	if len(samples) == 0 {
		return store.SeriesInfo{}, nil
	}
	return store.SeriesInfo{
		FirstTs:      samples[0].Ts,
		LastTs:       samples[len(samples)-1].Ts,
		TotalSamples: uint64(len(samples)),
	}, nil
}

func (f *fakeStore) ScalarGet(_ context.Context, fullName string) ([]byte, error) {
	return f.scalars[fullName], nil
}

func (f *fakeStore) ScalarSet(_ context.Context, fullName string, value []byte) error {
	f.scalars[fullName] = append([]byte(nil), value...)
	return nil
}

func (f *fakeStore) ScalarDelete(_ context.Context, fullName string) error {
	delete(f.scalars, fullName)
	return nil
}

func (f *fakeStore) SeriesCreate(_ context.Context, fullName string, _ map[string]string) error {
	if _, ok := f.series[fullName]; !ok {
		f.series[fullName] = nil
	}
	return nil
}

func (f *fakeStore) SeriesCreateRule(_ context.Context, _, _, _ string, _ int64) error { return nil }

func (f *fakeStore) SeriesRangeByLabel(_ context.Context, start, end model.Timestamp, _ string) ([]model.SeriesSamples, error) {
	var names []string
	for name := range f.series {
		names = append(names, name)
	}
	sort.Strings(names)
	if f.reorder {
		// Simulate a store that returns a different order across calls.
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	var out []model.SeriesSamples
	for _, name := range names {
		var inRange []model.Sample
		for _, s := range f.series[name] {
			if s.Ts >= start && s.Ts <= end {
				inRange = append(inRange, s)
			}
		}
		out = append(out, model.SeriesSamples{FullName: name, Samples: inRange})
	}
	return out, nil
}

func (f *fakeStore) SeriesMultiAdd(_ context.Context, fullName string, samples []model.Sample) ([]model.SampleWriteResult, error) {
	f.written[fullName] = append(f.written[fullName], samples...)
	results := make([]model.SampleWriteResult, len(samples))
	for i, s := range samples {
		results[i] = model.SampleWriteResult{FullName: fullName, Ts: s.Ts}
	}
	return results, nil
}

func seedThreeSeries(local *fakeStore) {
	for _, name := range []string{"S0", "S1", "S2"} {
		var samples []model.Sample
		for ts := model.Timestamp(0); ts <= 250; ts += 25 {
			samples = append(samples, model.Sample{Ts: ts, Value: float64(ts)})
		}
		local.series[name] = samples
	}
}

func TestRunColdStartReplicatesEverySample(t *testing.T) {
	ctx := context.Background()
	local := newFakeStore("local")
	remote := newFakeStore("remote")
	seedThreeSeries(local)

	plan := planner.Generate(nil, 0, 250, 100, -1, 0)
	info, err := syncinfo.New(ctx, remote, nil, 0, 250, plan.TotalCount, 100)
	require.NoError(t, err)

	d := New(local, remote, nil, nil, nil, nil)
	require.NoError(t, d.Run(ctx, plan, info, "class", nil))

	require.True(t, info.IsFinished())
	for _, name := range []string{"S0", "S1", "S2"} {
		require.Len(t, remote.written[name], len(local.series[name]))
	}
}

func TestRunEmptyCatalogFinishesImmediately(t *testing.T) {
	ctx := context.Background()
	local := newFakeStore("local")
	remote := newFakeStore("remote")

	plan := planner.Generate(nil, model.Unset, model.Unset, 100, -1, 0)
	info, err := syncinfo.New(ctx, remote, nil, model.Unset, model.Unset, plan.TotalCount, 100)
	require.NoError(t, err)

	d := New(local, remote, nil, nil, nil, nil)
	require.NoError(t, d.Run(ctx, plan, info, "class", nil))
	require.True(t, info.IsFinished())
	require.Empty(t, remote.written)
}

func TestRunResumesMidInterval(t *testing.T) {
	ctx := context.Background()
	local := newFakeStore("local")
	remote := newFakeStore("remote")
	seedThreeSeries(local)

	plan := planner.Generate(nil, 0, 250, 100, -1, 0)

	// Seed durable progress as if interval 0 finished and interval 1 had
	// committed through key index 1 (S0, S1) of 3.
	seed, err := syncinfo.New(ctx, remote, nil, 0, 250, plan.TotalCount, 100)
	require.NoError(t, err)
	seed.SetIntervalIndex(1)
	seed.SetIntervalKey("S2", 2)
	require.NoError(t, seed.Persist(ctx, nil))

	info, err := syncinfo.New(ctx, remote, nil, 0, 250, plan.TotalCount, 100)
	require.NoError(t, err)

	d := New(local, remote, nil, nil, nil, nil)
	require.NoError(t, d.Run(ctx, plan, info, "class", nil))
	require.True(t, info.IsFinished())
}

func TestRunDeterminismFaultIsFatal(t *testing.T) {
	ctx := context.Background()
	local := newFakeStore("local")
	remote := newFakeStore("remote")
	seedThreeSeries(local)

	plan := planner.Generate(nil, 0, 250, 100, -1, 0)

	seed, err := syncinfo.New(ctx, remote, nil, 0, 250, plan.TotalCount, 100)
	require.NoError(t, err)
	seed.SetIntervalIndex(1)
	seed.SetIntervalKey("S2", 2)
	require.NoError(t, seed.Persist(ctx, nil))

	info, err := syncinfo.New(ctx, remote, nil, 0, 250, plan.TotalCount, 100)
	require.NoError(t, err)

	local.reorder = true
	d := New(local, remote, nil, nil, nil, nil)
	err = d.Run(ctx, plan, info, "class", nil)
	require.ErrorIs(t, err, ErrDeterminismFault)
	require.Empty(t, remote.written)
}

func TestRunCooperativeStopCheckpointsAndReturns(t *testing.T) {
	ctx := context.Background()
	local := newFakeStore("local")
	remote := newFakeStore("remote")
	seedThreeSeries(local)

	plan := planner.Generate(nil, 0, 250, 100, -1, 0)
	info, err := syncinfo.New(ctx, remote, nil, 0, 250, plan.TotalCount, 100)
	require.NoError(t, err)

	stopNow := true
	d := New(local, remote, nil, nil, nil, nil)
	require.NoError(t, d.Run(ctx, plan, info, "class", func() bool { return stopNow }))

	require.False(t, info.IsFinished())
	require.Empty(t, remote.written)
}
