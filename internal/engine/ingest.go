package engine

import (
	"context"
	"encoding/json"
	"time"

	"greenhouse/internal/sensor"

	"go.uber.org/zap"
)

const measurementFilter = "inputs/+/measurements"

// onMeasurement stores every populated channel of an input message
func (e *Engine) onMeasurement(topic string, payload []byte) {
	var msg sensor.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.Log.Warn("bad measurement message", zap.String("topic", topic), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for ch, m := range msg.Measurements {
		if m.Value == nil {
			continue
		}
		ts := e.now()
		if m.Timestamp != nil {
			ts = *m.Timestamp
		}
		if err := e.Cache.Set(ctx, msg.InputID, ch, *m.Value, ts); err != nil {
			e.Log.Warn("caching measurement",
				zap.String("input", msg.InputID), zap.Int("channel", ch), zap.Error(err))
		}
	}
}
