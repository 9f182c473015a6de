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

// Package supervisor owns the single background replication worker: poll
// cadence, catalog refresh, window-shift-on-new-data, and cooperative
// start/stop. Progress is single-writer: there is never more than one
// worker goroutine per engine instance.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/atomic"

	"github.com/iotbzh/cloudsync/bandwidth"
	"github.com/iotbzh/cloudsync/catalog"
	"github.com/iotbzh/cloudsync/model"
	"github.com/iotbzh/cloudsync/planner"
	"github.com/iotbzh/cloudsync/replication"
	"github.com/iotbzh/cloudsync/store"
	"github.com/iotbzh/cloudsync/syncinfo"
)

// State is the supervisor's externally observable lifecycle state.
type State int32

const (
	Idle State = iota
	Running
	StopRequested
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StopRequested:
		return "stop_requested"
	default:
		return "unknown"
	}
}

// Params configures a Supervisor. It carries exactly the subset of
// config.Config the replication engine's worker loop needs, so this
// package does not have to import config and can be driven directly from
// tests.
type Params struct {
	KeyLabelTs       string
	KeyLabel         string
	IntervalSize     int64
	IntervalCount    int
	IntervalStartIdx int
	PollInterval     time.Duration
	Compaction       catalog.CompactionConfig
	BandwidthLevel   bandwidth.Level
	BandwidthQuotas  bandwidth.Quotas
}

// Supervisor owns one replication worker goroutine running against one
// local/remote store pair.
type Supervisor struct {
	local   store.Client
	remote  store.Client
	logger  log.Logger
	tracer  opentracing.Tracer
	metrics *replication.Metrics

	mu       sync.Mutex
	state    State
	params   Params
	info     *syncinfo.Info
	plan     model.Plan
	localCat *catalog.Catalog

	stopFlag atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Supervisor. tracer may be nil (resolved to a no-op
// tracer); metrics may be nil (resolved to unregistered instruments).
func New(local, remote store.Client, logger log.Logger, tracer opentracing.Tracer, metrics *replication.Metrics, params Params) *Supervisor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}
	if metrics == nil {
		metrics = replication.NewMetrics(nil)
	}
	return &Supervisor{local: local, remote: remote, logger: logger, tracer: tracer, metrics: metrics, params: params}
}

// State reports the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns the progress record of the most recent (or current) run,
// or nil if the worker has never run yet.
func (s *Supervisor) Info() *syncinfo.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// CurrentPlan returns the plan of the most recent (or current) run. The
// zero Plan is returned before the worker's first pass.
func (s *Supervisor) CurrentPlan() model.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// LocalCatalog returns the local catalog snapshot of the most recent
// refresh, or nil before the worker's first pass. Read-only consumers
// (the diagnostics exporter) must not mutate it.
func (s *Supervisor) LocalCatalog() *catalog.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localCat
}

// SetPollInterval changes the poll cadence, picked up at the next poll
// boundary. Called from the config hot-reload path.
func (s *Supervisor) SetPollInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.PollInterval = d
}

// SetBandwidthQuotas replaces the per-level byte-rate table, picked up
// when the next run builds its limiter. Called from the config
// hot-reload path.
func (s *Supervisor) SetBandwidthQuotas(q bandwidth.Quotas) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.BandwidthQuotas = q
}

func (s *Supervisor) pollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.PollInterval
}

func (s *Supervisor) quotas() bandwidth.Quotas {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.BandwidthQuotas
}

// Start spawns the background worker if idle. Idempotent on Running.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return
	}
	s.state = Running
	s.stopFlag.Store(false)
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.workerLoop(ctx); err != nil {
			level.Error(s.logger).Log("msg", "replication worker exited with error", "err", err)
		}
		s.mu.Lock()
		s.state = Idle
		s.mu.Unlock()
	}()
}

// Stop requests a cooperative stop and blocks until the worker has
// acknowledged it by exiting. Idempotent on Idle; a concurrent second
// Stop only waits, the channel is closed exactly once.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return
	}
	alreadyRequested := s.state == StopRequested
	s.state = StopRequested
	stopCh := s.stopCh
	s.mu.Unlock()

	s.stopFlag.Store(true)
	if !alreadyRequested {
		close(stopCh)
	}
	s.wg.Wait()
}

func (s *Supervisor) stopRequested() bool {
	return s.stopFlag.Load()
}

// refreshAndBootstrap rebuilds both catalogs and bootstraps the remote's
// missing keys/rules, feeding the bootstrap counts into metrics. Catalog
// refresh happens on every pass, startup and every poll alike; whether
// that leads to a new plan is decided by the caller.
func (s *Supervisor) refreshAndBootstrap(ctx context.Context) (*catalog.Catalog, *catalog.Catalog, error) {
	localCat, remoteCat, err := catalog.RefreshBoth(ctx, s.local, s.remote, s.params.KeyLabelTs, s.params.KeyLabel)
	if err != nil {
		return nil, nil, err
	}
	result, err := catalog.Bootstrap(ctx, s.logger, s.local, s.remote, localCat, remoteCat, s.params.KeyLabelTs, s.params.Compaction)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.AddBootstrapCounts(result.KeysCreated, result.RulesCreated)
	return localCat, remoteCat, nil
}

// runPlan builds a limiter for the run's bandwidth level and a driver
// for the current window, and runs the driver to completion (or until a
// cooperative stop checkpoints it mid-plan). The limiter is fixed for
// the whole run: a bandwidth level changed through the RPC surface takes
// effect here, at the start of the next run, never mid-run.
func (s *Supervisor) runPlan(ctx context.Context, plan model.Plan, info *syncinfo.Info) error {
	lvl := info.BandwidthLevel()
	quotas := s.quotas()
	limiter := bandwidth.NewLimiter(quotas, lvl)
	s.metrics.SetBandwidthQuota(quotas[lvl])

	driver := replication.New(s.local, s.remote, s.logger, s.tracer, limiter, s.metrics)
	return driver.Run(ctx, plan, info, s.params.KeyLabelTs, s.stopRequested)
}

// workerLoop makes an initial full pass over the local catalog's
// window, then enters a poll loop that only rebuilds the plan and
// reruns the driver when the catalog has grown past the previously-seen
// lastTs, shifting the window so only the new span is (re)planned.
func (s *Supervisor) workerLoop(ctx context.Context) error {
	localCat, _, err := s.refreshAndBootstrap(ctx)
	if err != nil {
		return err
	}
	firstTs, lastTs := localCat.GlobalWindow()
	plan := planner.Generate(s.logger, firstTs, lastTs, s.params.IntervalSize, s.params.IntervalCount, s.params.IntervalStartIdx)

	info, err := syncinfo.New(ctx, s.remote, s.logger, firstTs, lastTs, plan.TotalCount, s.params.IntervalSize)
	if err != nil {
		return err
	}
	if s.params.BandwidthLevel != bandwidth.Medium {
		info.SetBandwidthLevel(s.params.BandwidthLevel)
	}
	s.mu.Lock()
	s.info = info
	s.plan = plan
	s.localCat = localCat
	s.mu.Unlock()

	if err := s.runPlan(ctx, plan, info); err != nil {
		return err
	}
	previousLastTs := lastTs

	for {
		if s.stopRequested() {
			return nil
		}
		select {
		case <-time.After(s.pollInterval()):
		case <-s.stopCh:
			return nil
		}
		if s.stopRequested() {
			return nil
		}

		localCat, _, err := s.refreshAndBootstrap(ctx)
		if err != nil {
			return err
		}
		_, newLastTs := localCat.GlobalWindow()
		if newLastTs == previousLastTs {
			continue
		}

		level.Info(s.logger).Log("msg", "new samples detected, shifting replication window", "from", previousLastTs, "to", newLastTs)
		shiftedFirstTs := previousLastTs
		plan := planner.Generate(s.logger, shiftedFirstTs, newLastTs, s.params.IntervalSize, s.params.IntervalCount, s.params.IntervalStartIdx)

		info.Reconfigure(shiftedFirstTs, newLastTs, plan.TotalCount, s.params.IntervalSize)
		info.MarkPending()
		if err := info.Persist(ctx, nil); err != nil {
			return err
		}
		s.mu.Lock()
		s.plan = plan
		s.localCat = localCat
		s.mu.Unlock()

		if err := s.runPlan(ctx, plan, info); err != nil {
			return err
		}
		previousLastTs = newLastTs
	}
}
