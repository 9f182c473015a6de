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

// Package discovery resolves the remote store's network address through
// a named backend: static configuration, a DNS SRV lookup, or a Consul
// service-catalog query. Backends register themselves by name from
// their package init; discovery/install pulls them all in.
package discovery

import (
	"context"
	"fmt"
	"sync"
)

// Endpoint is a resolved host/port pair for the remote store.
type Endpoint struct {
	Host string
	Port int
}

// Backend resolves an Endpoint on demand. cmd/cloudsyncd resolves the
// remote endpoint once, at startup; nothing re-resolves it while the
// process runs.
type Backend interface {
	Resolve(ctx context.Context) (Endpoint, error)
}

// NewFunc constructs a Backend from its name-specific configuration.
type NewFunc func(cfg map[string]string) (Backend, error)

var (
	registryMu sync.Mutex
	registry   = map[string]NewFunc{}
)

// Register makes a backend constructor available under name. Called
// from each backend subpackage's init().
func Register(name string, fn NewFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// New constructs the named backend. An unknown name is a configuration
// error caught by config.validate before New is ever called in practice.
func New(name string, cfg map[string]string) (Backend, error) {
	registryMu.Lock()
	fn, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("discovery: unknown backend %q", name)
	}
	return fn(cfg)
}

// Resolver wraps a Backend with the "stale address on failure" policy:
// a resolution failure keeps the previously resolved address and reports
// the failure to the caller for logging, rather than blocking an
// in-flight sync.
type Resolver struct {
	mu      sync.RWMutex
	backend Backend
	current Endpoint
}

// NewResolver builds a Resolver seeded with the given initial endpoint
// (typically the static config value, even when backend != "static", so
// there is always something to fall back to before the first refresh).
func NewResolver(backend Backend, initial Endpoint) *Resolver {
	return &Resolver{backend: backend, current: initial}
}

// Current returns the last successfully resolved endpoint.
func (r *Resolver) Current() Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Refresh attempts to resolve a new endpoint. On success it updates
// Current; on failure it leaves Current untouched and returns the error
// for the caller to log.
func (r *Resolver) Refresh(ctx context.Context) error {
	ep, err := r.backend.Resolve(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.current = ep
	r.mu.Unlock()
	return nil
}
