package engine

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"greenhouse/internal/conditional"
	"greenhouse/internal/models"

	"go.uber.org/zap"
)

// ParseMeasurementRef splits a condition's measurement reference
// "<input id>,<channel>".
func ParseMeasurementRef(ref string) (inputID string, channel int, ok bool) {
	input, ch, found := strings.Cut(ref, ",")
	if !found || input == "" {
		return "", 0, false
	}
	channel, err := strconv.Atoi(strings.TrimSpace(ch))
	if err != nil {
		return "", 0, false
	}
	return strings.TrimSpace(input), channel, true
}

// env binds the statement functions to the controller's conditions
func (e *Engine) env(ctx context.Context, c *Controller, now time.Time) conditional.StatementEnv {
	return conditional.StatementEnv{
		Measurement: func(conditionID string) float64 {
			return e.measurement(ctx, c, conditionID, now)
		},
		GPIOState: func(conditionID string) int {
			return e.gpioState(c, conditionID)
		},
		OutputState: func(conditionID string) string {
			return e.outputState(ctx, c, conditionID)
		},
	}
}

func (e *Engine) measurement(ctx context.Context, c *Controller, conditionID string, now time.Time) float64 {
	cond, ok := c.conditions[conditionID]
	if !ok || (cond.ConditionType != models.ConditionMeasurement && cond.ConditionType != models.ConditionMeasurementDict) {
		return math.NaN()
	}
	inputID, channel, ok := ParseMeasurementRef(cond.Measurement)
	if !ok {
		return math.NaN()
	}
	value, ts, found, err := e.Cache.Get(ctx, inputID, channel)
	if err != nil {
		e.Log.Warn("reading measurement cache", zap.String("measurement", cond.Measurement), zap.Error(err))
		return math.NaN()
	}
	if !found || now.Sub(ts) > time.Duration(cond.MaxAge)*time.Second {
		return math.NaN()
	}
	return value
}

func (e *Engine) gpioState(c *Controller, conditionID string) int {
	cond, ok := c.conditions[conditionID]
	if !ok || cond.ConditionType != models.ConditionGPIOState || e.GPIO == nil {
		return -1
	}
	level, err := e.GPIO.Read(cond.GPIOPin)
	if err != nil {
		e.Log.Warn("reading gpio", zap.Int("pin", cond.GPIOPin), zap.Error(err))
		return -1
	}
	return level
}

func (e *Engine) outputState(ctx context.Context, c *Controller, conditionID string) string {
	cond, ok := c.conditions[conditionID]
	if !ok || cond.ConditionType != models.ConditionOutputState {
		return ""
	}
	state, err := e.Outputs.Get(ctx, cond.OutputID)
	if err != nil {
		e.Log.Warn("reading output state", zap.String("output", cond.OutputID), zap.Error(err))
		return ""
	}
	return state
}
