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

package store

import (
	"context"
	"fmt"
	"net"
	"sort"

	"github.com/mwitkow/go-conntrack"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/iotbzh/cloudsync/model"
)

// RedisClient implements Client against a Redis server carrying the
// RedisTimeSeries module. TS.* commands have no dedicated client in the Go
// ecosystem, so they are issued through go-redis's generic Do(), exactly
// the way most RedisTimeSeries Go integrations do in the absence of an
// official client.
type RedisClient struct {
	rdb  *redis.Client
	name string
}

// NewRedisClient dials a Redis instance. desc ("local"/"remote") names the
// connection in conntrack dial metrics and in logs.
func NewRedisClient(addr, desc string) *RedisClient {
	dialer := conntrack.NewDialContextFunc(
		conntrack.DialWithName(desc),
		conntrack.DialWithTracing(),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		Dialer: func(ctx context.Context, network, a string) (net.Conn, error) {
			return dialer(ctx, network, a)
		},
	})

	return &RedisClient{rdb: rdb, name: desc}
}

// Name implements Client.
func (c *RedisClient) Name() string { return c.name }

// Close releases the underlying connection pool.
func (c *RedisClient) Close() error { return c.rdb.Close() }

// KeysMatching implements Client.
func (c *RedisClient) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	keys, err := c.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: KEYS %s", c.name, pattern)
	}
	sort.Strings(keys)
	return keys, nil
}

// SeriesInfo implements Client.
func (c *RedisClient) SeriesInfo(ctx context.Context, fullName string) (SeriesInfo, error) {
	res, err := c.rdb.Do(ctx, "TS.INFO", fullName).Result()
	if err != nil {
		return SeriesInfo{}, errors.Wrapf(err, "%s: TS.INFO %s", c.name, fullName)
	}

	fields, ok := res.(map[interface{}]interface{})
	if !ok {
		if s, ok2 := res.([]interface{}); ok2 {
			fields = flattenInfoReply(s)
		} else {
			return SeriesInfo{}, errors.Errorf("%s: TS.INFO %s: unexpected reply shape", c.name, fullName)
		}
	}

	info := SeriesInfo{}
	if v, ok := fields["firstTimestamp"]; ok {
		info.FirstTs = model.Timestamp(toInt64(v))
	}
	if v, ok := fields["lastTimestamp"]; ok {
		info.LastTs = model.Timestamp(toInt64(v))
	}
	if v, ok := fields["totalSamples"]; ok {
		info.TotalSamples = uint64(toInt64(v))
	}
	return info, nil
}

func flattenInfoReply(s []interface{}) map[interface{}]interface{} {
	m := make(map[interface{}]interface{}, len(s)/2)
	for i := 0; i+1 < len(s); i += 2 {
		m[fmt.Sprintf("%v", s[i])] = s[i+1]
	}
	return m
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		var out int64
		fmt.Sscanf(n, "%d", &out)
		return out
	default:
		return 0
	}
}

// ScalarGet implements Client.
func (c *RedisClient) ScalarGet(ctx context.Context, fullName string) ([]byte, error) {
	v, err := c.rdb.Get(ctx, fullName).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s: GET %s", c.name, fullName)
	}
	return v, nil
}

// ScalarSet implements Client.
func (c *RedisClient) ScalarSet(ctx context.Context, fullName string, value []byte) error {
	if err := c.rdb.Set(ctx, fullName, value, 0).Err(); err != nil {
		return errors.Wrapf(err, "%s: SET %s", c.name, fullName)
	}
	return nil
}

// ScalarDelete implements Client.
func (c *RedisClient) ScalarDelete(ctx context.Context, fullName string) error {
	if err := c.rdb.Del(ctx, fullName).Err(); err != nil {
		return errors.Wrapf(err, "%s: DEL %s", c.name, fullName)
	}
	return nil
}

// SeriesCreate implements Client.
func (c *RedisClient) SeriesCreate(ctx context.Context, fullName string, labels map[string]string) error {
	args := []interface{}{"TS.CREATE", fullName}
	if len(labels) > 0 {
		args = append(args, "LABELS")
		for k, v := range labels {
			args = append(args, k, v)
		}
	}
	if err := c.rdb.Do(ctx, args...).Err(); err != nil {
		return errors.Wrapf(err, "%s: TS.CREATE %s", c.name, fullName)
	}
	return nil
}

// SeriesCreateRule implements Client.
func (c *RedisClient) SeriesCreateRule(ctx context.Context, src, dst, aggregator string, bucketMs int64) error {
	err := c.rdb.Do(ctx, "TS.CREATERULE", src, dst, "AGGREGATION", aggregator, bucketMs).Err()
	if err != nil {
		return errors.Wrapf(err, "%s: TS.CREATERULE %s -> %s", c.name, src, dst)
	}
	return nil
}

// SeriesRangeByLabel implements Client. The returned order follows
// RedisTimeSeries's own key iteration order for TS.MRANGE, which is
// stable across calls against an unchanged catalog.
func (c *RedisClient) SeriesRangeByLabel(ctx context.Context, start, end model.Timestamp, labelSelector string) ([]model.SeriesSamples, error) {
	res, err := c.rdb.Do(ctx, "TS.MRANGE", int64(start), int64(end), "FILTER", labelSelector).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: TS.MRANGE %d %d FILTER %s", c.name, start, end, labelSelector)
	}

	rows, ok := res.([]interface{})
	if !ok {
		return nil, errors.Errorf("%s: TS.MRANGE: unexpected reply shape", c.name)
	}

	out := make([]model.SeriesSamples, 0, len(rows))
	for _, row := range rows {
		entry, ok := row.([]interface{})
		if !ok || len(entry) < 3 {
			continue
		}
		name, _ := entry[0].(string)
		samplesRaw, ok := entry[2].([]interface{})
		if !ok {
			continue
		}
		samples := make([]model.Sample, 0, len(samplesRaw))
		for _, sr := range samplesRaw {
			pair, ok := sr.([]interface{})
			if !ok || len(pair) != 2 {
				continue
			}
			samples = append(samples, model.Sample{
				Ts:    model.Timestamp(toInt64(pair[0])),
				Value: toFloat64(pair[1]),
			})
		}
		out = append(out, model.SeriesSamples{FullName: name, Samples: samples})
	}
	return out, nil
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		var out float64
		fmt.Sscanf(n, "%g", &out)
		return out
	default:
		return 0
	}
}

// SeriesMultiAdd implements Client.
func (c *RedisClient) SeriesMultiAdd(ctx context.Context, fullName string, samples []model.Sample) ([]model.SampleWriteResult, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, 1+3*len(samples))
	args = append(args, "TS.MADD")
	for _, s := range samples {
		args = append(args, fullName, int64(s.Ts), s.Value)
	}

	res, err := c.rdb.Do(ctx, args...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: TS.MADD %s", c.name, fullName)
	}

	replies, ok := res.([]interface{})
	if !ok {
		return nil, errors.Errorf("%s: TS.MADD %s: unexpected reply shape", c.name, fullName)
	}

	out := make([]model.SampleWriteResult, len(samples))
	for i, s := range samples {
		var rerr error
		if i < len(replies) {
			if e, ok := replies[i].(error); ok {
				rerr = e
			}
		}
		out[i] = model.SampleWriteResult{FullName: fullName, Ts: s.Ts, Err: rerr}
	}
	return out, nil
}
