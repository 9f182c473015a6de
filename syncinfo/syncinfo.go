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

// Package syncinfo implements the progress record: the only mutable
// durable state of a sync, its resumability predicate and its terminal
// cleanup. Every field lives both in memory and as a scalar key on the
// remote store, so a restarted process can reconcile the two and decide
// whether to resume or start over.
package syncinfo

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/iotbzh/cloudsync/bandwidth"
	"github.com/iotbzh/cloudsync/model"
	"github.com/iotbzh/cloudsync/store"
)

// Field names, used to select a subset for a partial persist.
const (
	FieldIntervalIndex     = "interval_index"
	FieldIntervalKey       = "interval_key"
	FieldIntervalKeyIndex  = "interval_key_index"
	FieldTsStart           = "ts_start"
	FieldTsEnd             = "ts_end"
	FieldIntervalsTotalCnt = "intervals_total_cnt"
	FieldIntervalSize      = "interval_size"
	FieldSyncFinished      = "sync_finished"
	FieldBandwidthLevel    = "bandwidth_level"
)

// Durable key names, as stored as scalar keys on the remote.
var durableKey = map[string]string{
	FieldIntervalIndex:     "CLOUD_PUB_SYNC_INTERVAL_IDX",
	FieldIntervalKey:       "CLOUD_PUB_SYNC_INTERVAL_KEY",
	FieldIntervalKeyIndex:  "CLOUD_PUB_SYNC_INTERVAL_KEY_IDX",
	FieldTsStart:           "CLOUD_PUB_SYNC_TS_START",
	FieldTsEnd:             "CLOUD_PUB_SYNC_TS_END",
	FieldIntervalsTotalCnt: "CLOUD_PUB_SYNC_INTERVALS_TOTAL_CNT",
	FieldIntervalSize:      "CLOUD_PUB_SYNC_INTERVAL_SIZE",
	FieldSyncFinished:      "CLOUD_PUB_SYNC_FINISHED",
	FieldBandwidthLevel:    "CLOUD_PUB_SYNC_BANDWIDTH_LEVEL",
}

var allFields = []string{
	FieldIntervalIndex, FieldIntervalKey, FieldIntervalKeyIndex,
	FieldTsStart, FieldTsEnd, FieldIntervalsTotalCnt, FieldIntervalSize,
	FieldSyncFinished, FieldBandwidthLevel,
}

// stringFields holds field names whose value is a string rather than a
// numeric sentinel-able integer.
var stringFields = map[string]bool{
	FieldIntervalKey:    true,
	FieldBandwidthLevel: true,
}

// ErrNotFound marks a durable field that has never been written.
var ErrNotFound = errors.New("sync info: durable field not set")

// Info is the progress record: in-memory + persisted sync progress,
// resumability verdict and bandwidth setting. Progress fields are written
// only from the worker goroutine (single writer); RPC handlers read them
// concurrently and may set the bandwidth level, hence the RWMutex.
type Info struct {
	mu     sync.RWMutex
	remote store.Client
	logger log.Logger

	value   map[string]interface{}
	dbValue map[string]interface{}
}

// New builds an in-memory Info from freshly computed catalog/config
// values, then loads whatever durable state survives on the remote store
// (but does not yet decide resumability; call Resumable for that).
func New(ctx context.Context, remote store.Client, logger log.Logger, firstTs, lastTs model.Timestamp, intervalsTotalCnt int, intervalSize int64) (*Info, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	info := &Info{
		remote: remote,
		logger: logger,
		value: map[string]interface{}{
			FieldIntervalIndex:     int64(model.Unset),
			FieldIntervalKey:       "",
			FieldIntervalKeyIndex:  int64(model.Unset),
			FieldTsStart:           int64(firstTs),
			FieldTsEnd:             int64(lastTs),
			FieldIntervalsTotalCnt: int64(intervalsTotalCnt),
			FieldIntervalSize:      intervalSize,
			FieldSyncFinished:      int64(model.Unset),
			FieldBandwidthLevel:    bandwidth.Medium.String(),
		},
		dbValue: map[string]interface{}{},
	}

	if err := info.loadFromRemote(ctx); err != nil {
		return nil, err
	}
	return info, nil
}

// loadFromRemote reads every durable progress key and decodes it. Absent
// keys leave dbValue unset, which Resumable below treats as "cannot
// resume". sync_finished is special: the durable value, if present,
// overwrites the in-memory value verbatim, since it represents the prior
// lifecycle state rather than anything computed from the current catalog.
func (s *Info) loadFromRemote(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range allFields {
		raw, err := s.remote.ScalarGet(ctx, durableKey[f])
		if err != nil {
			return errors.Wrapf(err, "sync info: loading %s", durableKey[f])
		}
		if raw == nil {
			continue
		}
		str := string(raw)
		if stringFields[f] {
			s.dbValue[f] = str
		} else {
			n, err := strconv.ParseInt(str, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "sync info: decoding %s=%q", durableKey[f], str)
			}
			s.dbValue[f] = n
		}
	}

	if v, ok := s.dbValue[FieldSyncFinished]; ok {
		s.value[FieldSyncFinished] = v
	}
	return nil
}

// Persist writes the given subset of fields (or all fields, if fields is
// nil) to the remote store. Restricting the field space minimizes I/O on
// the frequent per-key checkpoint writes of the replication driver.
func (s *Info) Persist(ctx context.Context, fields []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fields == nil {
		fields = allFields
	}
	for _, f := range fields {
		v := s.value[f]
		if err := s.remote.ScalarSet(ctx, durableKey[f], []byte(fmt.Sprint(v))); err != nil {
			return errors.Wrapf(err, "sync info: persisting %s=%v", durableKey[f], v)
		}
		s.dbValue[f] = v
	}
	return nil
}

// Resumable implements the resumability predicate: every durable
// field must be present, ts_start/ts_end/intervals_total_cnt/
// interval_size/bandwidth_level must match their in-memory counterparts,
// and interval_index must not be the "never started" sentinel. On any
// failure it logs which check failed and persists the current in-memory
// values so a subsequent crash resumes cleanly from scratch.
func (s *Info) Resumable(ctx context.Context) (bool, error) {
	s.mu.Lock()

	for _, f := range allFields {
		if _, ok := s.dbValue[f]; !ok {
			level.Info(s.logger).Log("msg", "durable field missing, cannot resume", "field", f)
			s.mu.Unlock()
			return false, s.Persist(ctx, nil)
		}
	}

	checks := []struct {
		field string
	}{
		{FieldTsStart}, {FieldTsEnd}, {FieldIntervalsTotalCnt}, {FieldIntervalSize}, {FieldBandwidthLevel},
	}

	if s.dbValue[FieldIntervalIndex].(int64) == int64(model.Unset) {
		level.Info(s.logger).Log("msg", "interval index is unset in the database, syncing from scratch")
		s.mu.Unlock()
		return false, s.Persist(ctx, nil)
	}

	for _, c := range checks {
		if s.dbValue[c.field] != s.value[c.field] {
			level.Info(s.logger).Log("msg", "durable/in-memory mismatch, cannot resume",
				"field", c.field, "db_value", s.dbValue[c.field], "value", s.value[c.field])
			s.mu.Unlock()
			return false, s.Persist(ctx, nil)
		}
	}

	s.value[FieldIntervalIndex] = s.dbValue[FieldIntervalIndex]
	s.value[FieldIntervalKey] = s.dbValue[FieldIntervalKey]
	s.value[FieldIntervalKeyIndex] = s.dbValue[FieldIntervalKeyIndex]
	level.Info(s.logger).Log("msg", "resumption counters consistent, sync is resumable")
	s.mu.Unlock()
	return true, nil
}

// MarkFinished resets every in-memory field to its sentinel, deletes
// every durable key except the terminal marker, then sets that marker.
// The deletion-before-marker ordering ensures a crash between the two
// steps leaves "resume from scratch" rather than "finished, but progress
// keys lie".
func (s *Info) MarkFinished(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range allFields {
		if f == FieldSyncFinished {
			continue
		}
		var sentinel interface{} = int64(model.Unset)
		if stringFields[f] {
			sentinel = ""
		}
		s.value[f] = sentinel
		delete(s.dbValue, f)
		if err := s.remote.ScalarDelete(ctx, durableKey[f]); err != nil {
			return errors.Wrapf(err, "sync info: deleting %s", durableKey[f])
		}
	}

	s.value[FieldSyncFinished] = int64(1)
	if err := s.remote.ScalarSet(ctx, durableKey[FieldSyncFinished], []byte("1")); err != nil {
		return errors.Wrap(err, "sync info: persisting sync_finished=1")
	}
	s.dbValue[FieldSyncFinished] = int64(1)
	level.Info(s.logger).Log("msg", "sync marked finished, progress keys cleaned up")
	return nil
}

// MarkPending sets sync_finished back to 0 in memory, without touching
// the durable store (the caller is expected to Persist explicitly).
func (s *Info) MarkPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value[FieldSyncFinished] = int64(0)
}

// IsFinished reports whether the in-memory sync_finished field is 1.
func (s *Info) IsFinished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value[FieldSyncFinished] == int64(1)
}

// IntervalIndex, IntervalKey and IntervalKeyIndex return the current
// in-memory resume cursor.
func (s *Info) IntervalIndex() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value[FieldIntervalIndex].(int64)
}

func (s *Info) IntervalKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value[FieldIntervalKey].(string)
}

func (s *Info) IntervalKeyIndex() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value[FieldIntervalKeyIndex].(int64)
}

// SetIntervalIndex sets the in-memory interval cursor.
func (s *Info) SetIntervalIndex(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value[FieldIntervalIndex] = v
}

// SetIntervalKey sets the in-memory key/key-index cursor within the
// current interval.
func (s *Info) SetIntervalKey(name string, idx int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value[FieldIntervalKey] = name
	s.value[FieldIntervalKeyIndex] = idx
}

// BandwidthLevel returns the current bandwidth setting.
func (s *Info) BandwidthLevel() bandwidth.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lvl, _ := bandwidth.ParseLevel(s.value[FieldBandwidthLevel].(string))
	return lvl
}

// SetBandwidthLevel sets the in-memory bandwidth level. It does not
// persist: the new value takes effect at the start of the next run,
// where the mismatch against the durable level forces a fresh plan.
func (s *Info) SetBandwidthLevel(level bandwidth.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value[FieldBandwidthLevel] = level.String()
}

// TsStart and TsEnd return the in-memory global window bounds.
func (s *Info) TsStart() model.Timestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Timestamp(s.value[FieldTsStart].(int64))
}

func (s *Info) TsEnd() model.Timestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Timestamp(s.value[FieldTsEnd].(int64))
}

// IntervalsTotalCount returns the in-memory |Plan|.
func (s *Info) IntervalsTotalCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value[FieldIntervalsTotalCnt].(int64)
}

// Reconfigure replaces the in-memory window/plan-derived fields (used
// when the supervisor detects new samples and shifts the window) while
// preserving whatever was already persisted, so the next Resumable() call
// still sees the prior run's durable values for comparison.
func (s *Info) Reconfigure(firstTs, lastTs model.Timestamp, intervalsTotalCnt int, intervalSize int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value[FieldTsStart] = int64(firstTs)
	s.value[FieldTsEnd] = int64(lastTs)
	s.value[FieldIntervalsTotalCnt] = int64(intervalsTotalCnt)
	s.value[FieldIntervalSize] = intervalSize
}
