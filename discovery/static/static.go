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

// Package static implements the "static" endpoint discovery backend:
// the remote store's host/port taken verbatim from configuration. This
// is the default backend.
package static

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/iotbzh/cloudsync/discovery"
)

func init() {
	discovery.Register("static", New)
}

type backend struct {
	endpoint discovery.Endpoint
}

// New builds the static backend from cfg["host"] and cfg["port"].
func New(cfg map[string]string) (discovery.Backend, error) {
	host := cfg["host"]
	if host == "" {
		return nil, errors.New("discovery/static: host is required")
	}
	port, err := strconv.Atoi(cfg["port"])
	if err != nil {
		return nil, errors.Wrap(err, "discovery/static: port")
	}
	return &backend{endpoint: discovery.Endpoint{Host: host, Port: port}}, nil
}

func (b *backend) Resolve(_ context.Context) (discovery.Endpoint, error) {
	return b.endpoint, nil
}
