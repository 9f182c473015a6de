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

// Package rpc is the thin external binding over the replication engine:
// ping / sync-start / sync-stop / bandwidth-get / bandwidth-set and the
// diagnostics snapshot trigger, nothing else. The core lives in
// supervisor and replication, not here.
package rpc

import (
	"context"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"

	"github.com/iotbzh/cloudsync/bandwidth"
	"github.com/iotbzh/cloudsync/supervisor"
	"github.com/iotbzh/cloudsync/syncinfo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine is the subset of the supervisor the RPC shell needs. Matching
// it against an interface (rather than depending on *supervisor.Supervisor
// directly) keeps the handler set testable without a real store pair.
type Engine interface {
	Start(ctx context.Context)
	Stop()
	State() supervisor.State
	Info() *syncinfo.Info
}

// Snapshotter writes a diagnostics snapshot of the engine's current
// state to a file and returns its path. Wired up by cmd/cloudsyncd from
// the diagnostics package; nil disables the /diag/snapshot verb.
type Snapshotter func(ctx context.Context) (string, error)

// Server implements the RPC surface as plain net/http handlers.
type Server struct {
	engine   Engine
	snapshot Snapshotter
	logger   log.Logger
	pongs    atomic.Int64
}

// NewServer builds a Server bound to engine. snapshot may be nil.
func NewServer(engine Engine, snapshot Snapshotter, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{engine: engine, snapshot: snapshot, logger: logger}
}

// Handler returns the http.Handler exposing the RPC surface, to be mounted
// on the process's HTTP listener alongside /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/sync/start", s.handleSyncStart)
	mux.HandleFunc("/sync/stop", s.handleSyncStop)
	mux.HandleFunc("/bandwidth", s.handleBandwidth)
	mux.HandleFunc("/diag/snapshot", s.handleDiagSnapshot)
	return mux
}

type pingResponse struct {
	Pong int64 `json:"pong"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, pingResponse{Pong: s.pongs.Inc()})
}

func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.engine.State() == supervisor.Idle {
		s.engine.Start(context.WithoutCancel(r.Context()))
		level.Info(s.logger).Log("msg", "sync started via rpc")
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.engine.State().String()})
}

// handleSyncStop requests a cooperative stop and blocks until the
// worker has acknowledged it by exiting.
func (s *Server) handleSyncStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.engine.Stop()
	level.Info(s.logger).Log("msg", "sync stopped via rpc")
	writeJSON(w, http.StatusOK, map[string]string{"state": s.engine.State().String()})
}

type bandwidthResponse struct {
	Level string `json:"level"`
}

type bandwidthRequest struct {
	Level string `json:"level"`
}

func (s *Server) handleBandwidth(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		info := s.engine.Info()
		if info == nil {
			writeJSON(w, http.StatusOK, bandwidthResponse{Level: bandwidth.Medium.String()})
			return
		}
		writeJSON(w, http.StatusOK, bandwidthResponse{Level: info.BandwidthLevel().String()})
	case http.MethodPut:
		var req bandwidthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		lvl, err := bandwidth.ParseLevel(req.Level)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		info := s.engine.Info()
		if info == nil {
			http.Error(w, "sync has not started yet", http.StatusConflict)
			return
		}
		info.SetBandwidthLevel(lvl)
		writeJSON(w, http.StatusOK, bandwidthResponse{Level: lvl.String()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type diagResponse struct {
	Path string `json:"path"`
}

// handleDiagSnapshot triggers a read-only diagnostics export. It never
// touches durable progress state, so it is safe to invoke while a sync
// is running.
func (s *Server) handleDiagSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.snapshot == nil {
		http.Error(w, "diagnostics snapshots not configured", http.StatusServiceUnavailable)
		return
	}
	path, err := s.snapshot(r.Context())
	if err != nil {
		level.Warn(s.logger).Log("msg", "diagnostics snapshot failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	level.Info(s.logger).Log("msg", "diagnostics snapshot written", "path", path)
	writeJSON(w, http.StatusOK, diagResponse{Path: path})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
