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

// Package dns implements the "dns" endpoint discovery backend: a single
// SRV lookup resolved once per refresh, using miekg/dns directly rather
// than net.LookupSRV so the resolver (and its timeout) is configurable
// independently of the process-wide system resolver.
package dns

import (
	"context"

	"github.com/miekg/dns"
	"github.com/pkg/errors"

	cloudsyncdiscovery "github.com/iotbzh/cloudsync/discovery"
)

func init() {
	cloudsyncdiscovery.Register("dns", New)
}

type backend struct {
	name       string
	resolvConf string
}

// New builds the dns backend. cfg["name"] is the SRV record name to
// query; cfg["resolv_conf"] optionally overrides /etc/resolv.conf.
func New(cfg map[string]string) (cloudsyncdiscovery.Backend, error) {
	name := cfg["name"]
	if name == "" {
		return nil, errors.New("discovery/dns: name is required")
	}
	resolvConf := cfg["resolv_conf"]
	if resolvConf == "" {
		resolvConf = "/etc/resolv.conf"
	}
	return &backend{name: name, resolvConf: resolvConf}, nil
}

func (b *backend) Resolve(ctx context.Context) (cloudsyncdiscovery.Endpoint, error) {
	cc, err := dns.ClientConfigFromFile(b.resolvConf)
	if err != nil {
		return cloudsyncdiscovery.Endpoint{}, errors.Wrap(err, "discovery/dns: reading resolver config")
	}
	if len(cc.Servers) == 0 {
		return cloudsyncdiscovery.Endpoint{}, errors.New("discovery/dns: no nameservers configured")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(b.name), dns.TypeSRV)

	client := new(dns.Client)
	resp, _, err := client.ExchangeContext(ctx, msg, cc.Servers[0]+":"+cc.Port)
	if err != nil {
		return cloudsyncdiscovery.Endpoint{}, errors.Wrapf(err, "discovery/dns: SRV lookup for %s", b.name)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return cloudsyncdiscovery.Endpoint{}, errors.Errorf("discovery/dns: SRV lookup for %s: rcode %d", b.name, resp.Rcode)
	}

	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			host := srv.Target
			if len(host) > 0 && host[len(host)-1] == '.' {
				host = host[:len(host)-1]
			}
			return cloudsyncdiscovery.Endpoint{Host: host, Port: int(srv.Port)}, nil
		}
	}
	return cloudsyncdiscovery.Endpoint{}, errors.Errorf("discovery/dns: no SRV records for %s", b.name)
}
