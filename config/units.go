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

package config

import "github.com/alecthomas/units"

// parseByteRate parses a human-readable byte size such as "256KB" or
// "1MB" into a plain byte count.
func parseByteRate(s string) (int64, error) {
	n, err := units.ParseBase2Bytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
