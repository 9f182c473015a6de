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

package discovery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iotbzh/cloudsync/discovery"
	_ "github.com/iotbzh/cloudsync/discovery/install"
)

func TestStaticBackendResolvesConfiguredEndpoint(t *testing.T) {
	backend, err := discovery.New("static", map[string]string{"host": "cloud.example.com", "port": "6380"})
	require.NoError(t, err)

	ep, err := backend.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, discovery.Endpoint{Host: "cloud.example.com", Port: 6380}, ep)
}

func TestNewUnknownBackendErrors(t *testing.T) {
	_, err := discovery.New("eureka", nil)
	require.Error(t, err)
}

type flakyBackend struct {
	ep   discovery.Endpoint
	fail bool
}

func (f *flakyBackend) Resolve(_ context.Context) (discovery.Endpoint, error) {
	if f.fail {
		return discovery.Endpoint{}, errFlaky
	}
	return f.ep, nil
}

var errFlaky = &flakyError{}

type flakyError struct{}

func (*flakyError) Error() string { return "flaky backend failure" }

func TestResolverKeepsStaleEndpointOnFailure(t *testing.T) {
	backend := &flakyBackend{ep: discovery.Endpoint{Host: "a", Port: 1}}
	r := discovery.NewResolver(backend, discovery.Endpoint{Host: "seed", Port: 0})

	require.NoError(t, r.Refresh(context.Background()))
	require.Equal(t, discovery.Endpoint{Host: "a", Port: 1}, r.Current())

	backend.fail = true
	err := r.Refresh(context.Background())
	require.Error(t, err)
	require.Equal(t, discovery.Endpoint{Host: "a", Port: 1}, r.Current())
}
