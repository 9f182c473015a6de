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

// Package diagnostics exports a read-only, point-in-time snapshot of the
// plan, progress record and catalog summary counts for offline support
// bundles. It never touches durable progress state and must never be
// treated as an alternate resume source: a snapshot is strictly an
// export, not a second copy of the truth.
package diagnostics

import (
	"context"
	"io/ioutil"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/iotbzh/cloudsync/catalog"
	"github.com/iotbzh/cloudsync/model"
	"github.com/iotbzh/cloudsync/syncinfo"
)

// Snapshot is the wire message written to a diagnostics file. Field tags
// drive gogo/protobuf's reflection-based encoding, so no .proto file or
// protoc step is needed for a message this small.
type Snapshot struct {
	RunID             string  `protobuf:"bytes,1,opt,name=run_id" json:"run_id,omitempty"`
	PlanTotalCount    int64   `protobuf:"varint,2,opt,name=plan_total_count" json:"plan_total_count,omitempty"`
	IntervalIndex     int64   `protobuf:"varint,3,opt,name=interval_index" json:"interval_index,omitempty"`
	IntervalKey       string  `protobuf:"bytes,4,opt,name=interval_key" json:"interval_key,omitempty"`
	IntervalKeyIndex  int64   `protobuf:"varint,5,opt,name=interval_key_index" json:"interval_key_index,omitempty"`
	TsStart           int64   `protobuf:"varint,6,opt,name=ts_start" json:"ts_start,omitempty"`
	TsEnd             int64   `protobuf:"varint,7,opt,name=ts_end" json:"ts_end,omitempty"`
	SyncFinished      bool    `protobuf:"varint,8,opt,name=sync_finished" json:"sync_finished,omitempty"`
	BandwidthLevel    string  `protobuf:"bytes,9,opt,name=bandwidth_level" json:"bandwidth_level,omitempty"`
	SeriesCount       int64   `protobuf:"varint,10,opt,name=series_count" json:"series_count,omitempty"`
	ScalarCount       int64   `protobuf:"varint,11,opt,name=scalar_count" json:"scalar_count,omitempty"`
	TotalSamples      uint64  `protobuf:"varint,12,opt,name=total_samples" json:"total_samples,omitempty"`
}

// Reset, String and ProtoMessage satisfy gogo/protobuf's proto.Message
// interface for reflection-based marshaling.
func (s *Snapshot) Reset()         { *s = Snapshot{} }
func (s *Snapshot) String() string { return proto.CompactTextString(s) }
func (*Snapshot) ProtoMessage()    {}

// Build assembles a Snapshot from the current in-memory state. It takes
// no lock of its own beyond what Info's accessors already hold, and is
// safe to call concurrently with a running sync.
func Build(runID string, plan model.Plan, info *syncinfo.Info, cat *catalog.Catalog) *Snapshot {
	snap := &Snapshot{
		RunID:            runID,
		PlanTotalCount:   int64(plan.TotalCount),
		IntervalIndex:    info.IntervalIndex(),
		IntervalKey:      info.IntervalKey(),
		IntervalKeyIndex: info.IntervalKeyIndex(),
		TsStart:          int64(info.TsStart()),
		TsEnd:            int64(info.TsEnd()),
		SyncFinished:     info.IsFinished(),
		BandwidthLevel:   info.BandwidthLevel().String(),
	}
	if cat != nil {
		snap.SeriesCount = int64(len(cat.Series))
		snap.ScalarCount = int64(len(cat.Scalars))
		snap.TotalSamples = cat.TotalSamples()
	}
	return snap
}

// WriteFile serializes the snapshot with gogo/protobuf and snappy
// compresses it before writing.
func WriteFile(_ context.Context, path string, snap *Snapshot) error {
	raw, err := proto.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "diagnostics: marshaling snapshot")
	}
	compressed := snappy.Encode(nil, raw)
	if err := ioutil.WriteFile(path, compressed, 0o644); err != nil {
		return errors.Wrapf(err, "diagnostics: writing %s", path)
	}
	return nil
}

// ReadFile decompresses and decodes a snapshot written by WriteFile, used
// by support tooling (and tests) to inspect a snapshot offline.
func ReadFile(path string) (*Snapshot, error) {
	compressed, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "diagnostics: reading %s", path)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, errors.Wrapf(err, "diagnostics: decompressing %s", path)
	}
	snap := &Snapshot{}
	if err := proto.Unmarshal(raw, snap); err != nil {
		return nil, errors.Wrapf(err, "diagnostics: unmarshaling %s", path)
	}
	return snap, nil
}
