package sensor

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturePublisher struct {
	topics   []string
	payloads [][]byte
}

func (c *capturePublisher) Publish(topic string, payload []byte) error {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload)
	return nil
}

func TestPoller_PublishesPopulatedChannels(t *testing.T) {
	pub := &capturePublisher{}
	r := NewReader(&fakeSensor{temp: 25, hum: 60}, NewChannelSet(0, 1, 3), nil)
	p := NewPoller("bme-1", r, 0, pub, zap.NewNop(), nil)

	p.Poll()

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "inputs/bme-1/measurements", pub.topics[0])

	var msg Message
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, "bme-1", msg.InputID)
	assert.Len(t, msg.Measurements, 3)
	v, ok := msg.Measurements.Get(ChannelTemperature)
	require.True(t, ok)
	assert.Equal(t, 25.0, v)
}

func TestPoller_ReadErrorPublishesNothing(t *testing.T) {
	pub := &capturePublisher{}
	r := NewReader(&fakeSensor{err: errors.New("bus error")}, NewChannelSet(0), nil)
	p := NewPoller("bme-1", r, 0, pub, zap.NewNop(), nil)

	p.Poll()
	assert.Empty(t, pub.payloads)
}
