package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// MeasurementCache keeps the latest value of every input channel
type MeasurementCache struct {
	client *redis.Client
}

func NewMeasurementCache(client *redis.Client) *MeasurementCache {
	return &MeasurementCache{client: client}
}

func measurementKey(inputID string, channel int) string {
	return fmt.Sprintf("measurement:%s:%d", inputID, channel)
}

// Set stores a reading
func (m *MeasurementCache) Set(ctx context.Context, inputID string, channel int, value float64, ts time.Time) error {
	return m.client.HSet(ctx, measurementKey(inputID, channel),
		"value", strconv.FormatFloat(value, 'f', -1, 64),
		"ts", ts.UnixNano(),
	).Err()
}

// Get returns the latest reading. ok is false when nothing was stored yet.
func (m *MeasurementCache) Get(ctx context.Context, inputID string, channel int) (value float64, ts time.Time, ok bool, err error) {
	vals, err := m.client.HGetAll(ctx, measurementKey(inputID, channel)).Result()
	if err != nil {
		return 0, time.Time{}, false, err
	}
	rawValue, hasValue := vals["value"]
	rawTS, hasTS := vals["ts"]
	if !hasValue || !hasTS {
		return 0, time.Time{}, false, nil
	}
	value, err = strconv.ParseFloat(rawValue, 64)
	if err != nil {
		return 0, time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return 0, time.Time{}, false, err
	}
	return value, time.Unix(0, nanos), true, nil
}

// OutputStates caches the last commanded state of each output
type OutputStates struct {
	client *redis.Client
}

func NewOutputStates(client *redis.Client) *OutputStates {
	return &OutputStates{client: client}
}

func (o *OutputStates) Set(ctx context.Context, outputID, state string) error {
	return o.client.Set(ctx, "output:"+outputID, state, 0).Err()
}

// Get returns "" when the output state is unknown
func (o *OutputStates) Get(ctx context.Context, outputID string) (string, error) {
	state, err := o.client.Get(ctx, "output:"+outputID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return state, err
}

// Flash is a one-shot user notification
type Flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// FlashStore queues flash messages per session until the next page render
type FlashStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewFlashStore(client *redis.Client) *FlashStore {
	return &FlashStore{client: client, ttl: time.Hour}
}

func flashKey(owner string) string {
	return "flash:" + owner
}

// Push appends flashes for owner
func (f *FlashStore) Push(ctx context.Context, owner string, flashes ...Flash) error {
	if len(flashes) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(flashes))
	for _, fl := range flashes {
		raw, err := json.Marshal(fl)
		if err != nil {
			return err
		}
		values = append(values, raw)
	}
	_, err := f.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, flashKey(owner), values...)
		pipe.Expire(ctx, flashKey(owner), f.ttl)
		return nil
	})
	return err
}

// Pop returns and clears the queued flashes for owner
func (f *FlashStore) Pop(ctx context.Context, owner string) ([]Flash, error) {
	var lrange *redis.StringSliceCmd
	_, err := f.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, flashKey(owner), 0, -1)
		pipe.Del(ctx, flashKey(owner))
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Flash, 0, len(lrange.Val()))
	for _, raw := range lrange.Val() {
		var fl Flash
		if err := json.Unmarshal([]byte(raw), &fl); err != nil {
			continue
		}
		out = append(out, fl)
	}
	return out, nil
}
