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

// Command cloudsyncd wires the config, discovery, catalog, replication,
// supervisor and RPC packages into one process: an edge-to-cloud
// time-series replication daemon. The supervisor worker, the HTTP
// listener and the signal handler run as one oklog/run actor group, so
// any one actor's exit shuts the others down.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/oklog/run"
	"github.com/oklog/ulid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/iotbzh/cloudsync/bandwidth"
	"github.com/iotbzh/cloudsync/catalog"
	"github.com/iotbzh/cloudsync/config"
	"github.com/iotbzh/cloudsync/diagnostics"
	"github.com/iotbzh/cloudsync/discovery"
	_ "github.com/iotbzh/cloudsync/discovery/install"
	"github.com/iotbzh/cloudsync/replication"
	"github.com/iotbzh/cloudsync/rpc"
	"github.com/iotbzh/cloudsync/store"
	"github.com/iotbzh/cloudsync/supervisor"
)

func main() {
	app := kingpin.New("cloudsyncd", "Edge-to-cloud time-series replication daemon.")
	configFile := app.Flag("config.file", "Path to the YAML configuration file.").Default("cloudsync.yml").String()
	listenAddr := app.Flag("web.listen-address", "Address to serve /ping, /sync, /bandwidth and /metrics on. Overrides http.listen_addr from the config file.").String()
	logLevel := app.Flag("log.level", "Minimum log level to emit: debug, info, warn, error.").Default("info").Enum("debug", "info", "warn", "error")
	app.Version(version.Print("cloudsyncd"))

	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "cloudsyncd"))
		os.Exit(1)
	}

	logger := newLogger(*logLevel)

	if err := runDaemon(logger, *configFile, *listenAddr); err != nil {
		level.Error(logger).Log("msg", "cloudsyncd exiting with error", "err", err)
		os.Exit(1)
	}
}

// newLogger builds a go-kit logfmt logger filtered to the requested
// level, the same level.NewFilter convention go-kit's own examples use.
func newLogger(levelFlag string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var lvl level.Option
	switch levelFlag {
	case "debug":
		lvl = level.AllowDebug()
	case "warn":
		lvl = level.AllowWarn()
	case "error":
		lvl = level.AllowError()
	default:
		lvl = level.AllowInfo()
	}
	return level.NewFilter(logger, lvl)
}

func runDaemon(logger log.Logger, configFile, listenAddrFlag string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	listenAddr := cfg.HTTP.ListenAddr
	if listenAddrFlag != "" {
		listenAddr = listenAddrFlag
	}
	if listenAddr == "" {
		listenAddr = ":9201"
	}

	runID := ulid.MustNew(ulid.Now(), rand.New(rand.NewSource(time.Now().UnixNano())))
	level.Info(logger).Log("msg", "starting cloudsyncd", "version", version.Version, "run_id", runID.String())

	tracer, tracerCloser, err := setupTracer(cfg, logger)
	if err != nil {
		return err
	}
	defer tracerCloser.Close()

	local := store.NewRedisClient(fmt.Sprintf("%s:%d", cfg.Databases.RedisLocal.Host, cfg.Databases.RedisLocal.Port), "local")

	resolver, err := setupDiscovery(cfg)
	if err != nil {
		return err
	}
	remoteEP := resolver.Current()
	remote := store.NewRedisClient(fmt.Sprintf("%s:%d", remoteEP.Host, remoteEP.Port), "remote")

	quotas, err := cfg.BandwidthQuotas()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(version.NewCollector("cloudsync"))
	metrics := replication.NewMetrics(reg)
	metrics.Register()

	params := supervisor.Params{
		KeyLabelTs:       cfg.Sync.KeyLabelTs,
		KeyLabel:         cfg.Sync.KeyLabel,
		IntervalSize:     cfg.Sync.TimeIntervalSize,
		IntervalCount:    cfg.Sync.TimeIntervalNb,
		IntervalStartIdx: cfg.Sync.TimeIntervalStartIdx,
		PollInterval:     cfg.PollInterval(),
		Compaction: catalog.CompactionConfig{
			Enabled:    cfg.Sync.Compaction.Enabled,
			KeySuffix:  cfg.Sync.Compaction.KeySuffix,
			Aggregator: cfg.Sync.Compaction.Aggregator,
			BucketMs:   cfg.Sync.Compaction.BucketDuration,
		},
		BandwidthLevel:  bandwidth.Medium,
		BandwidthQuotas: quotas,
	}
	sup := supervisor.New(local, remote, logger, tracer, metrics, params)

	watcher, err := config.NewWatcher(configFile, logger, func(reloaded *config.Config) {
		sup.SetPollInterval(reloaded.PollInterval())
		if newQuotas, err := reloaded.BandwidthQuotas(); err == nil {
			sup.SetBandwidthQuotas(newQuotas)
		} else {
			level.Warn(logger).Log("msg", "reloaded bandwidth quotas invalid, keeping previous", "err", err)
		}
	})
	if err != nil {
		level.Warn(logger).Log("msg", "config hot-reload disabled", "err", err)
	} else {
		defer watcher.Close()
	}

	snapshotDir := cfg.Sync.Diagnostics.OutputDir
	if snapshotDir == "" {
		snapshotDir = "."
	}
	snapshot := func(ctx context.Context) (string, error) {
		info := sup.Info()
		if info == nil {
			return "", errors.New("sync has not started yet")
		}
		snap := diagnostics.Build(runID.String(), sup.CurrentPlan(), info, sup.LocalCatalog())
		path := filepath.Join(snapshotDir, fmt.Sprintf("cloudsync-%s-%d.pb.snappy", runID, time.Now().Unix()))
		if err := diagnostics.WriteFile(ctx, path, snap); err != nil {
			return "", err
		}
		return path, nil
	}

	server := rpc.NewServer(sup, snapshot, logger)
	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: listenAddr, Handler: mux}

	var g run.Group
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			if cfg.Sync.Autostart {
				sup.Start(ctx)
			}
			<-ctx.Done()
			return nil
		}, func(error) {
			sup.Stop()
			cancel()
		})
	}
	{
		g.Add(func() error {
			level.Info(logger).Log("msg", "rpc/metrics listener starting", "addr", listenAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		})
	}
	{
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		cancel := make(chan struct{})
		g.Add(func() error {
			select {
			case s := <-sigCh:
				level.Info(logger).Log("msg", "received signal, shutting down", "signal", s.String())
				return nil
			case <-cancel:
				return nil
			}
		}, func(error) {
			close(cancel)
		})
	}

	return g.Run()
}

func setupTracer(cfg *config.Config, logger log.Logger) (opentracing.Tracer, interface{ Close() error }, error) {
	if !cfg.Sync.Tracing.Enabled {
		return opentracing.NoopTracer{}, nopCloser{}, nil
	}
	jcfg := jaegercfg.Configuration{
		ServiceName: "cloudsyncd",
		Sampler: &jaegercfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LocalAgentHostPort: cfg.Sync.Tracing.AgentAddr,
		},
	}
	tracer, closer, err := jcfg.NewTracer()
	if err != nil {
		return nil, nil, errors.Wrap(err, "cloudsyncd: initializing jaeger tracer")
	}
	return tracer, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func setupDiscovery(cfg *config.Config) (*discovery.Resolver, error) {
	initial := discovery.Endpoint{Host: cfg.Databases.RedisCloud.Host, Port: cfg.Databases.RedisCloud.Port}
	backendName := cfg.Sync.EndpointDiscovery.Backend
	if backendName == "" {
		backendName = "static"
	}

	cfgMap := map[string]string{
		"host":    cfg.Databases.RedisCloud.Host,
		"port":    fmt.Sprint(cfg.Databases.RedisCloud.Port),
		"name":    cfg.Sync.EndpointDiscovery.DNSName,
		"service": cfg.Sync.EndpointDiscovery.ConsulService,
	}
	backend, err := discovery.New(backendName, cfgMap)
	if err != nil {
		return nil, errors.Wrap(err, "cloudsyncd: building discovery backend")
	}
	resolver := discovery.NewResolver(backend, initial)
	if err := resolver.Refresh(context.Background()); err != nil {
		return nil, errors.Wrap(err, "cloudsyncd: resolving initial remote endpoint")
	}
	return resolver, nil
}
