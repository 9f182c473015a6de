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

package bandwidth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseLevelRoundTrip(t *testing.T) {
	for _, lvl := range []Level{None, Low, Medium, High} {
		parsed, err := ParseLevel(lvl.String())
		require.NoError(t, err)
		require.Equal(t, lvl, parsed)
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	_, err := ParseLevel("turbo")
	require.ErrorIs(t, err, ErrInvalidLevel)

	_, err = ParseLevel("")
	require.ErrorIs(t, err, ErrInvalidLevel)
}

func TestUnlimitedQuotaNeverBlocks(t *testing.T) {
	l := NewLimiter(Quotas{High: Unlimited}, High)
	require.NoError(t, l.WaitSamples(context.Background(), 1<<20))
}

func TestZeroQuotaBlocksUntilCancelled(t *testing.T) {
	l := NewLimiter(Quotas{None: 0}, None)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WaitSamples(ctx, 1)
	require.Error(t, err)
}

func TestLargeBatchDrainsInBucketSizedChunks(t *testing.T) {
	// A generous quota so the chunked reservation completes immediately
	// even when the batch's wire size exceeds the burst.
	l := NewLimiter(Quotas{Low: 1 << 30}, Low)
	require.NoError(t, l.WaitSamples(context.Background(), 1<<20))
}

func TestMissingQuotaMeansUnlimited(t *testing.T) {
	l := NewLimiter(Quotas{}, Medium)
	require.NoError(t, l.WaitSamples(context.Background(), 1000))
}
