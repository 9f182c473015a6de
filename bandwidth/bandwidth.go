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

// Package bandwidth models the sync engine's bandwidth setting as a
// tagged variant, and gates the per-interval send rate it is reserved for.
package bandwidth

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Level is the tagged bandwidth variant. It is never a bare string
// internally; conversion to/from the durable string representation
// happens only at the store boundary (syncinfo package).
type Level int

const (
	None Level = iota
	Low
	Medium
	High
)

// ErrInvalidLevel is returned by ParseLevel for any string outside the
// four accepted values.
var ErrInvalidLevel = errors.New("invalid bandwidth level")

// ParseLevel decodes the durable/RPC string form of a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "none":
		return None, nil
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	default:
		return 0, errors.Wrapf(ErrInvalidLevel, "%q", s)
	}
}

// String renders the Level back to its durable/RPC string form.
func (l Level) String() string {
	switch l {
	case None:
		return "none"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "none"
	}
}

// Quotas maps each Level to a byte-rate, in bytes/second. A quota of 0
// means the level is fully paused (None's usual meaning); a negative
// value means unthrottled.
type Quotas map[Level]int64

// Unlimited marks a quota as not rate-limited at all.
const Unlimited int64 = -1

// Limiter gates seriesMultiAdd calls to the byte-rate configured for the
// currently active Level, using a token-bucket (golang.org/x/time/rate).
// Each sample's wire footprint is approximated as 16 bytes (8-byte
// millisecond timestamp + 8-byte float64 value); the bucket holds one
// second's worth of quota, and never less than one sample.
type Limiter struct {
	quotas  Quotas
	level   Level
	limiter *rate.Limiter
}

const bytesPerSample = 16

// NewLimiter builds a Limiter for the given quotas, configured for level.
// The limiter is fixed for the lifetime of one sync run: per the engine's
// resume semantics, bandwidth never changes mid-run.
func NewLimiter(quotas Quotas, level Level) *Limiter {
	l := &Limiter{quotas: quotas, level: level}
	l.limiter = l.newRateLimiter(level)
	return l
}

func (l *Limiter) newRateLimiter(level Level) *rate.Limiter {
	quota, ok := l.quotas[level]
	if !ok || quota == Unlimited {
		return nil
	}
	if quota <= 0 {
		return rate.NewLimiter(0, 1)
	}
	burst := int(quota)
	if burst < bytesPerSample {
		burst = bytesPerSample
	}
	return rate.NewLimiter(rate.Limit(quota), burst)
}

// Level reports the level this limiter was built for.
func (l *Limiter) Level() Level { return l.level }

// WaitSamples blocks, respecting ctx cancellation, until the wire
// footprint of n samples has been admitted by the token bucket. Only ctx
// ends a wait early; the supervisor's cooperative stop flag is not
// observed here. A nil underlying limiter (unlimited quota) returns
// immediately.
func (l *Limiter) WaitSamples(ctx context.Context, n int) error {
	if l.limiter == nil || n == 0 {
		return nil
	}
	need := n * bytesPerSample
	// rate.Limiter.WaitN requires n <= burst; reserve in bucket-sized
	// chunks for large batches instead of raising burst unboundedly.
	burst := l.limiter.Burst()
	for need > 0 {
		chunk := need
		if chunk > burst {
			chunk = burst
		}
		if err := l.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		need -= chunk
	}
	return nil
}
