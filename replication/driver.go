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

// Package replication implements the core interval x key nested loop
// that moves samples from the local store to the remote store: a
// field-granular checkpoint persisted before each unit of work, a
// tracing span around the actual network call, and per-reply error
// logging that never aborts the run.
package replication

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"

	"github.com/iotbzh/cloudsync/bandwidth"
	"github.com/iotbzh/cloudsync/model"
	"github.com/iotbzh/cloudsync/store"
	"github.com/iotbzh/cloudsync/syncinfo"
)

// ErrDeterminismFault is returned when the store's key ordering for a
// resumed interval differs from what was durably recorded. Resetting
// silently instead would risk duplicating writes beyond what the store
// can idempotently absorb.
var ErrDeterminismFault = errors.New("replication: resume determinism fault")

// Driver runs one replication pass over a Plan. The supervisor builds a
// fresh Driver for every run, since the bandwidth limiter it carries is
// fixed for the lifetime of one run.
type Driver struct {
	local    store.Client
	remote   store.Client
	logger   log.Logger
	tracer   opentracing.Tracer
	limiter  *bandwidth.Limiter
	metrics  *Metrics
	interner *model.Interner
}

// New builds a Driver. tracer may be opentracing.NoopTracer{} when tracing
// is disabled; limiter may be nil to disable bandwidth gating entirely
// (tests typically pass nil).
func New(local, remote store.Client, logger log.Logger, tracer opentracing.Tracer, limiter *bandwidth.Limiter, metrics *Metrics) *Driver {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Driver{local: local, remote: remote, logger: logger, tracer: tracer, limiter: limiter, metrics: metrics, interner: model.NewInterner()}
}

// Run executes the nested interval x key loop against the given plan
// and progress record, reading the series labelled class=keyLabelTs from
// the local store and writing them to the remote store.
// stopRequested is polled at
// the top of each interval and at the top of each key; when it reports
// true the driver returns nil without completing the plan, leaving the
// checkpoints already persisted; a later Start resumes from them.
func (d *Driver) Run(ctx context.Context, plan model.Plan, info *syncinfo.Info, keyLabelTs string, stopRequested func() bool) error {
	if info.IsFinished() {
		return nil
	}

	resumable, err := info.Resumable(ctx)
	if err != nil {
		return errors.Wrap(err, "replication: resumability check")
	}

	var i, j int
	var k string
	if resumable {
		i = int(info.IntervalIndex())
		k = info.IntervalKey()
		j = int(info.IntervalKeyIndex())
	}
	resumeVerified := false

	n := len(plan.Intervals)
	d.metrics.planSize.Set(float64(n))

	for i < n {
		if stopRequested != nil && stopRequested() {
			level.Info(d.logger).Log("msg", "cooperative stop observed at interval boundary", "interval_index", i)
			return nil
		}

		inter := plan.Intervals[i]
		info.SetIntervalIndex(int64(i))
		if err := info.Persist(ctx, []string{syncinfo.FieldIntervalIndex}); err != nil {
			return errors.Wrap(err, "replication: checkpoint interval_index")
		}
		d.metrics.intervalIndex.Set(float64(i))

		rows, err := d.local.SeriesRangeByLabel(ctx, inter.Start, inter.End, "class="+keyLabelTs)
		if err != nil {
			return errors.Wrapf(err, "replication: seriesRangeByLabel(%s)", inter)
		}

		if resumable && !resumeVerified {
			if j >= len(rows) || rows[j].FullName != k {
				return errors.Wrapf(ErrDeterminismFault, "interval %d: expected key %q at index %d", i, k, j)
			}
			resumeVerified = true
		}

		for j < len(rows) {
			if stopRequested != nil && stopRequested() {
				level.Info(d.logger).Log("msg", "cooperative stop observed at key boundary", "interval_index", i, "key_index", j)
				return nil
			}

			row := rows[j]
			row.FullName = d.interner.Intern(row.FullName)
			info.SetIntervalKey(row.FullName, int64(j))
			if err := info.Persist(ctx, []string{syncinfo.FieldIntervalKey, syncinfo.FieldIntervalKeyIndex}); err != nil {
				return errors.Wrap(err, "replication: checkpoint interval_key")
			}

			if len(row.Samples) == 0 {
				d.metrics.samplesSkippedEmpty.Inc()
				j++
				continue
			}

			if err := d.sendSamples(ctx, row); err != nil {
				return err
			}
			j++
		}

		i++
		if resumeVerified || !resumable {
			j = 0
		}
	}

	if err := info.MarkFinished(ctx); err != nil {
		return errors.Wrap(err, "replication: mark sync finished")
	}
	return nil
}

// sendSamples gates the batch through the bandwidth limiter, wraps the
// remote write in a tracing span, and logs (without aborting the run)
// any per-sample write error the remote reports.
func (d *Driver) sendSamples(ctx context.Context, row model.SeriesSamples) error {
	if d.limiter != nil {
		if err := d.limiter.WaitSamples(ctx, len(row.Samples)); err != nil {
			return errors.Wrapf(err, "replication: bandwidth wait for %s", row.FullName)
		}
	}

	span, spanCtx := opentracing.StartSpanFromContextWithTracer(ctx, d.tracer, "Cloud Sync Send Batch")
	span.SetTag("series", row.FullName)
	span.SetTag("samples", len(row.Samples))
	defer span.Finish()

	replies, err := d.remote.SeriesMultiAdd(spanCtx, row.FullName, row.Samples)
	if err != nil {
		span.LogKV("error", err)
		ext.Error.Set(span, true)
		return errors.Wrapf(err, "replication: seriesMultiAdd(%s)", row.FullName)
	}

	failed := 0
	for _, r := range replies {
		if r.Err != nil {
			failed++
			d.metrics.samplesFailed.Inc()
			level.Warn(d.logger).Log("msg", "per-sample write warning", "series", r.FullName, "ts", r.Ts, "err", r.Err)
		}
	}
	d.metrics.samplesReplicated.Add(float64(len(row.Samples) - failed))
	return nil
}
