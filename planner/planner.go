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

// Package planner derives the ordered list of work intervals from a
// catalog's global timestamp window.
package planner

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/iotbzh/cloudsync/model"
)

// Generate builds a Plan covering [firstTs, lastTs] split into intervals
// of size, each interval abutting the next with no gap or overlap past
// one millisecond (I[i+1].Start = I[i].End + 1).
//
// count == -1 means "work every interval"; otherwise the returned plan's
// Intervals is restricted to [startIdx : startIdx+count), while TotalCount
// always reports the full, unrestricted interval count. An out-of-range
// startIdx resets to 0 and is logged.
func Generate(logger log.Logger, firstTs, lastTs model.Timestamp, size int64, count int, startIdx int) model.Plan {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	var all []model.Interval
	if firstTs == model.Unset || lastTs == model.Unset {
		return model.Plan{}
	}

	lower := firstTs
	upper := firstTs + model.Timestamp(size)
	if upper >= lastTs {
		// Clamp so the single-interval case satisfies the plan-coverage
		// invariant (Plan[-1].End == lastTs) instead of overshooting the
		// global window, e.g. a single-sample window of firstTs==lastTs
		// must produce exactly one interval (firstTs, firstTs).
		upper = lastTs
	}
	all = append(all, model.Interval{Start: lower, End: upper})

	for upper < lastTs {
		lower = upper + 1
		upper = upper + model.Timestamp(size)
		if upper >= lastTs {
			upper = lastTs
		}
		all = append(all, model.Interval{Start: lower, End: upper})
	}

	total := len(all)

	workCount := count
	if workCount == -1 {
		workCount = total
	}

	if startIdx >= total {
		level.Warn(logger).Log("msg", "interval start index out of bounds, starting at 0",
			"requested_start_idx", startIdx, "total", total)
		startIdx = 0
	}

	endIdx := startIdx + workCount
	if endIdx > total {
		endIdx = total
	}

	return model.Plan{
		Intervals:  all[startIdx:endIdx],
		TotalCount: total,
	}
}
