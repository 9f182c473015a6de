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

// Package store provides a uniform store-client abstraction used against
// both the local and the remote time-series store, and a RedisTimeSeries
// backed implementation of it.
package store

import (
	"context"

	"github.com/iotbzh/cloudsync/model"
)

// SeriesInfo is the metadata RedisTimeSeries reports about one key.
type SeriesInfo struct {
	FirstTs      model.Timestamp
	LastTs       model.Timestamp
	TotalSamples uint64
}

// Client is the uniform set of operations the replication engine performs
// against a time-series store, local or remote. Implementations need not
// be safe to share across goroutines unless documented otherwise; the
// driver is single-writer (see supervisor package).
type Client interface {
	// KeysMatching returns every key name matching the given pattern
	// (e.g. "SIEMENS_ET200SP.*").
	KeysMatching(ctx context.Context, pattern string) ([]string, error)

	// SeriesInfo returns first/last timestamp and sample count for a
	// series key.
	SeriesInfo(ctx context.Context, fullName string) (SeriesInfo, error)

	// ScalarGet returns the raw bytes bound to a scalar key.
	ScalarGet(ctx context.Context, fullName string) ([]byte, error)

	// ScalarSet binds bytes to a scalar key, creating it if absent.
	ScalarSet(ctx context.Context, fullName string, value []byte) error

	// ScalarDelete removes a scalar key. It must not error if the key is
	// already absent.
	ScalarDelete(ctx context.Context, fullName string) error

	// SeriesCreate creates a new, empty time series with the given
	// labels.
	SeriesCreate(ctx context.Context, fullName string, labels map[string]string) error

	// SeriesCreateRule attaches a downsampling compaction rule from src
	// to dst.
	SeriesCreateRule(ctx context.Context, src, dst, aggregator string, bucketMs int64) error

	// SeriesRangeByLabel returns, for the given closed timestamp range
	// and label selector, a deterministically ordered list of
	// (fullName, samples) pairs. Determinism across repeated calls
	// against the same catalog is required for safe mid-interval resume
	// (see replication package).
	SeriesRangeByLabel(ctx context.Context, start, end model.Timestamp, labelSelector string) ([]model.SeriesSamples, error)

	// SeriesMultiAdd appends a batch of samples to the single series
	// fullName and reports a per-sample result.
	SeriesMultiAdd(ctx context.Context, fullName string, samples []model.Sample) ([]model.SampleWriteResult, error)

	// Name identifies this client in logs and metrics ("local"/"remote").
	Name() string
}
