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

package model

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Interner deduplicates repeated series full-name strings across
// interval boundaries. The table is keyed by an xxhash/v2 digest
// instead of the string itself, so it doesn't hold a second full copy
// of every distinct name as its own key.
type Interner struct {
	mu    sync.Mutex
	table map[uint64]string
}

// NewInterner builds an empty Interner.
func NewInterner() *Interner {
	return &Interner{table: make(map[uint64]string)}
}

// Intern returns the canonical copy of s, recording s as canonical the
// first time a given digest is seen. A hash collision between two
// distinct strings falls back to returning s itself rather than the
// wrong canonical value.
func (in *Interner) Intern(s string) string {
	h := xxhash.Sum64String(s)
	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.table[h]; ok && existing == s {
		return existing
	}
	in.table[h] = s
	return s
}
