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

package model

import "strings"

// SeriesKey describes one time series as seen in a store's catalog.
type SeriesKey struct {
	FullName     string
	ShortName    string
	FirstTs      Timestamp
	LastTs       Timestamp
	TotalSamples uint64
}

// NewSeriesKey builds a SeriesKey, deriving ShortName by stripping the
// "<label>." prefix from FullName.
func NewSeriesKey(fullName string, label string, firstTs, lastTs Timestamp, totalSamples uint64) SeriesKey {
	return SeriesKey{
		FullName:     fullName,
		ShortName:    strings.TrimPrefix(fullName, label+"."),
		FirstTs:      firstTs,
		LastTs:       lastTs,
		TotalSamples: totalSamples,
	}
}

// ScalarKey describes a single name -> bytes binding, distinct from a
// series.
type ScalarKey struct {
	FullName  string
	ShortName string
	Value     []byte
}

// NewScalarKey builds a ScalarKey, deriving ShortName the same way as
// NewSeriesKey.
func NewScalarKey(fullName string, label string, value []byte) ScalarKey {
	return ScalarKey{
		FullName:  fullName,
		ShortName: strings.TrimPrefix(fullName, label+"."),
		Value:     value,
	}
}

// Interval is a closed timestamp range used as the unit of replication
// work. Start <= End always holds.
type Interval struct {
	Start Timestamp
	End   Timestamp
}

func (i Interval) String() string {
	return i.Start.String() + " => " + i.End.String()
}

// Plan is the ordered sequence of intervals covering the replication
// window, plus the total interval count the window was split into before
// any debug-only start-index/count restriction was applied.
type Plan struct {
	Intervals []Interval
	// TotalCount is len(Intervals) before the debug start-index/count
	// slice was applied; it's part of the resumability predicate (it
	// must match the durable intervals_total_cnt).
	TotalCount int
}

// Sample is a single (timestamp, value) pair belonging to one series.
type Sample struct {
	Ts    Timestamp
	Value float64
}

// SeriesSamples pairs a series full name with the ordered samples
// returned for it within one interval.
type SeriesSamples struct {
	FullName string
	Samples  []Sample
}

// SampleWriteResult is the per-sample outcome of a multi-add call.
type SampleWriteResult struct {
	FullName string
	Ts       Timestamp
	Err      error
}
