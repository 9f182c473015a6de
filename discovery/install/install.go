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

// Package install has the side-effect of registering every built-in
// endpoint discovery backend (static, dns, consul). cmd/cloudsyncd blank
// imports this package instead of each backend individually.
package install

import (
	_ "github.com/iotbzh/cloudsync/discovery/consul" // register consul
	_ "github.com/iotbzh/cloudsync/discovery/dns"    // register dns
	_ "github.com/iotbzh/cloudsync/discovery/static" // register static
)
