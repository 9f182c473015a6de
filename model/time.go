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

// Package model holds the data types shared by every component of the
// replication engine: timestamps, series/scalar keys, intervals and plans.
package model

import "time"

// Timestamp is milliseconds since the Unix epoch, as used by the
// underlying time-series store.
type Timestamp int64

// Unset is the sentinel value used throughout the progress record to mean
// "unknown / never set". It is distinguished from any legal value: valid
// indices and timestamps are always >= 0.
const Unset = -1

// ToTime converts a Timestamp to a time.Time in UTC.
func (t Timestamp) ToTime() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// FromTime converts a time.Time to a millisecond Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// String renders the timestamp using RFC3339 with millisecond precision.
func (t Timestamp) String() string {
	return t.ToTime().Format("2006-01-02T15:04:05.000Z07:00")
}
