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

package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iotbzh/cloudsync/model"
)

func TestGenerateColdStartThreeIntervals(t *testing.T) {
	plan := Generate(nil, 0, 250, 100, -1, 0)

	require.Equal(t, 3, plan.TotalCount)
	require.Equal(t, []model.Interval{
		{Start: 0, End: 100},
		{Start: 101, End: 200},
		{Start: 201, End: 250},
	}, plan.Intervals)
}

func TestGenerateSingleSampleWindow(t *testing.T) {
	plan := Generate(nil, 42, 42, 100, -1, 0)

	require.Equal(t, 1, plan.TotalCount)
	require.Equal(t, []model.Interval{{Start: 42, End: 42}}, plan.Intervals)
}

func TestGenerateEmptyWindow(t *testing.T) {
	plan := Generate(nil, model.Unset, model.Unset, 100, -1, 0)
	require.Empty(t, plan.Intervals)
	require.Equal(t, 0, plan.TotalCount)
}

func TestGenerateWorkCountRestriction(t *testing.T) {
	plan := Generate(nil, 0, 1000, 100, 3, 2)

	require.Equal(t, 10, plan.TotalCount)
	require.Len(t, plan.Intervals, 3)
	require.Equal(t, model.Timestamp(201), plan.Intervals[0].Start)
}

func TestGenerateStartIdxOutOfBoundsResetsToZero(t *testing.T) {
	plan := Generate(nil, 0, 250, 100, -1, 99)

	require.Equal(t, 3, plan.TotalCount)
	require.Len(t, plan.Intervals, 3)
	require.Equal(t, model.Timestamp(0), plan.Intervals[0].Start)
}

func TestGenerateCountExceedsRemaining(t *testing.T) {
	plan := Generate(nil, 0, 250, 100, 10, 1)

	// workCount = min(nb, total-startIdx) = min(10, 2) = 2
	require.Len(t, plan.Intervals, 2)
}
