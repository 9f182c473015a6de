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

// Package catalog discovers and caches series keys and scalar keys for a
// store, and bootstraps a remote store's keys/compaction rules so that the
// replication driver can rely on them already existing.
package catalog

import (
	"context"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/iotbzh/cloudsync/model"
	"github.com/iotbzh/cloudsync/store"
)

// Catalog is a point-in-time snapshot of one store's keys. Series keys
// carry full metadata (first/last timestamp, sample count); scalar keys
// are tracked by name only, their values are fetched on demand during
// bootstrap.
type Catalog struct {
	Series  map[string]model.SeriesKey
	Scalars map[string]struct{}
}

// Refresh queries a store for every series key and scalar key under the
// given label prefixes and builds a Catalog. Series metadata is fetched
// per key; set withMetadata to false for the remote catalog, which only
// needs key membership, not metadata.
func Refresh(ctx context.Context, client store.Client, seriesLabel, scalarLabel string, withMetadata bool) (*Catalog, error) {
	seriesNames, err := client.KeysMatching(ctx, seriesLabel+".*")
	if err != nil {
		return nil, errors.Wrapf(err, "%s: listing series keys", client.Name())
	}
	scalarNames, err := client.KeysMatching(ctx, scalarLabel+".*")
	if err != nil {
		return nil, errors.Wrapf(err, "%s: listing scalar keys", client.Name())
	}

	cat := &Catalog{
		Series:  make(map[string]model.SeriesKey, len(seriesNames)),
		Scalars: make(map[string]struct{}, len(scalarNames)),
	}
	for _, n := range scalarNames {
		cat.Scalars[n] = struct{}{}
	}

	if !withMetadata {
		for _, n := range seriesNames {
			cat.Series[n] = model.SeriesKey{FullName: n}
		}
		return cat, nil
	}

	for _, n := range seriesNames {
		info, err := client.SeriesInfo(ctx, n)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: TS.INFO %s", client.Name(), n)
		}
		cat.Series[n] = model.NewSeriesKey(n, seriesLabel, info.FirstTs, info.LastTs, info.TotalSamples)
	}
	return cat, nil
}

// RefreshBoth refreshes the local (with metadata) and remote (names only)
// catalogs concurrently, joining on both completing. This is the only
// place the engine needs a fan-out/join, so golang.org/x/sync/errgroup
// is used directly rather than a generic worker pool.
func RefreshBoth(ctx context.Context, local, remote store.Client, seriesLabel, scalarLabel string) (localCat, remoteCat *Catalog, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		localCat, err = Refresh(gctx, local, seriesLabel, scalarLabel, true)
		return err
	})
	g.Go(func() error {
		var err error
		remoteCat, err = Refresh(gctx, remote, seriesLabel, scalarLabel, false)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return localCat, remoteCat, nil
}

// GlobalWindow returns the min(firstTs) / max(lastTs) across every series
// in the catalog, i.e. the replication window's bounds. It returns
// (Unset, Unset) for an empty catalog.
func (c *Catalog) GlobalWindow() (first, last model.Timestamp) {
	if len(c.Series) == 0 {
		return model.Unset, model.Unset
	}
	first, last = model.Unset, model.Unset
	for _, s := range c.Series {
		if first == model.Unset || s.FirstTs < first {
			first = s.FirstTs
		}
		if last == model.Unset || s.LastTs > last {
			last = s.LastTs
		}
	}
	return first, last
}

// TotalSamples sums TotalSamples across every series in the catalog.
func (c *Catalog) TotalSamples() uint64 {
	var total uint64
	for _, s := range c.Series {
		total += s.TotalSamples
	}
	return total
}

// MissingSeries returns the series keys present locally but absent on the
// remote.
func (c *Catalog) MissingSeries(remote *Catalog) []string {
	var missing []string
	for name := range c.Series {
		if _, ok := remote.Series[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// MissingScalars returns the scalar keys present locally but absent on
// the remote.
func (c *Catalog) MissingScalars(remote *Catalog) []string {
	var missing []string
	for name := range c.Scalars {
		if _, ok := remote.Scalars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// CompactionConfig configures optional downsampling rule bootstrap.
type CompactionConfig struct {
	Enabled    bool
	KeySuffix  string
	Aggregator string
	BucketMs   int64
}

// BootstrapResult tallies what Bootstrap actually created, so callers can
// feed it into the replication metrics without Bootstrap depending on
// that package.
type BootstrapResult struct {
	KeysCreated  int
	RulesCreated int
}

// Bootstrap creates missing series on the remote (and, if enabled,
// their compaction companions and rules) and copies missing scalar
// values over. Bootstrap is idempotent: an "already exists" reply from
// the remote is logged, not fatal, since the membership diff normally
// prevents re-attempts.
func Bootstrap(ctx context.Context, logger log.Logger, local store.Client, remote store.Client, localCat, remoteCat *Catalog, seriesLabel string, compaction CompactionConfig) (BootstrapResult, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	var result BootstrapResult

	missingSeries := localCat.MissingSeries(remoteCat)
	level.Info(logger).Log("msg", "bootstrapping series keys", "count", len(missingSeries))

	for _, name := range missingSeries {
		if err := remote.SeriesCreate(ctx, name, map[string]string{"class": seriesLabel}); err != nil {
			level.Warn(logger).Log("msg", "series create failed (possibly already exists)", "key", name, "err", err)
		} else {
			result.KeysCreated++
		}

		if !compaction.Enabled {
			continue
		}

		compactionLabel := seriesLabel + compaction.KeySuffix
		compactionName := strings.Replace(name, seriesLabel, compactionLabel, 1)

		if err := remote.SeriesCreate(ctx, compactionName, map[string]string{"class": compactionLabel}); err != nil {
			level.Warn(logger).Log("msg", "compaction series create failed (possibly already exists)", "key", compactionName, "err", err)
		} else {
			result.KeysCreated++
		}
		if err := remote.SeriesCreateRule(ctx, name, compactionName, compaction.Aggregator, compaction.BucketMs); err != nil {
			level.Warn(logger).Log("msg", "compaction rule create failed (possibly already exists)", "src", name, "dst", compactionName, "err", err)
		} else {
			result.RulesCreated++
		}
	}

	missingScalars := localCat.MissingScalars(remoteCat)
	level.Info(logger).Log("msg", "bootstrapping scalar keys", "count", len(missingScalars))

	for _, name := range missingScalars {
		value, err := local.ScalarGet(ctx, name)
		if err != nil {
			return result, errors.Wrapf(err, "bootstrap: reading local scalar %s", name)
		}
		if err := remote.ScalarSet(ctx, name, value); err != nil {
			level.Warn(logger).Log("msg", "scalar set failed", "key", name, "err", err)
		}
	}
	return result, nil
}

// compactionSeriesName is exposed for tests asserting the substitution
// rule in isolation from Bootstrap's side effects.
func compactionSeriesName(fullName, seriesLabel, suffix string) string {
	return strings.Replace(fullName, seriesLabel, seriesLabel+suffix, 1)
}
