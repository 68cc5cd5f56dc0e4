package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"inputs/+/measurements", "inputs/bme280/measurements", true},
		{"inputs/+/measurements", "inputs/bme280/other", false},
		{"inputs/#", "inputs/bme280/measurements", true},
		{"inputs/+", "inputs/bme280/measurements", false},
		{"daemon/control/request", "daemon/control/request", true},
		{"a/b/c", "a/b", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.filter, tt.topic), "%s vs %s", tt.filter, tt.topic)
	}
}

func TestMemory(t *testing.T) {
	bus := NewMemory()
	var got []string
	require.NoError(t, bus.Subscribe("outputs/+/commands", func(topic string, payload []byte) {
		got = append(got, topic+"="+string(payload))
	}))

	require.NoError(t, bus.Publish("outputs/fan/commands", []byte("on")))
	require.NoError(t, bus.Publish("inputs/fan/measurements", []byte("x")))
	assert.Equal(t, []string{"outputs/fan/commands=on"}, got)

	require.NoError(t, bus.Unsubscribe("outputs/+/commands"))
	require.NoError(t, bus.Publish("outputs/fan/commands", []byte("off")))
	assert.Len(t, got, 1)
}

func TestMemory_SharedFilter(t *testing.T) {
	bus := NewMemory()
	var a, b int
	require.NoError(t, bus.Subscribe("inputs/+/measurements", func(string, []byte) { a++ }))
	require.NoError(t, bus.Subscribe("inputs/+/measurements", func(string, []byte) { b++ }))
	require.NoError(t, bus.Subscribe("inputs/#", func(string, []byte) { b++ }))

	require.NoError(t, bus.Publish("inputs/bme280/measurements", nil))
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}
