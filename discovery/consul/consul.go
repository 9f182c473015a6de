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

// Package consul implements the "consul" endpoint discovery backend: a
// service-catalog lookup via hashicorp/consul/api, picking the first
// healthy instance of the configured service.
package consul

import (
	"context"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/pkg/errors"

	"github.com/iotbzh/cloudsync/discovery"
)

func init() {
	discovery.Register("consul", New)
}

type backend struct {
	client  *consulapi.Client
	service string
}

// New builds the consul backend. cfg["service"] names the service to
// look up; cfg["address"] optionally overrides the default consul agent
// address (127.0.0.1:8500).
func New(cfg map[string]string) (discovery.Backend, error) {
	service := cfg["service"]
	if service == "" {
		return nil, errors.New("discovery/consul: service is required")
	}

	apiCfg := consulapi.DefaultConfig()
	if addr := cfg["address"]; addr != "" {
		apiCfg.Address = addr
	}
	client, err := consulapi.NewClient(apiCfg)
	if err != nil {
		return nil, errors.Wrap(err, "discovery/consul: building client")
	}
	return &backend{client: client, service: service}, nil
}

func (b *backend) Resolve(ctx context.Context) (discovery.Endpoint, error) {
	entries, _, err := b.client.Health().Service(b.service, "", true, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return discovery.Endpoint{}, errors.Wrapf(err, "discovery/consul: health check for %s", b.service)
	}
	if len(entries) == 0 {
		return discovery.Endpoint{}, errors.Errorf("discovery/consul: no healthy instances of %s", b.service)
	}

	svc := entries[0].Service
	host := svc.Address
	if host == "" {
		host = entries[0].Node.Address
	}
	return discovery.Endpoint{Host: host, Port: svc.Port}, nil
}
