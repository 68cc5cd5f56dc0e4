// Package mqtt is the message bus shared by the web server, the daemon and
// the sensor poller.
package mqtt

import (
	"fmt"
	"strings"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

// Handler receives one message
type Handler func(topic string, payload []byte)

// Bus publishes and subscribes to topics. Client talks to a broker; Memory
// stays inside the process.
type Bus interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, h Handler) error
	Unsubscribe(topic string) error
}

// NewMQTTClient connects a raw client to the broker. onConnect runs after
// every (re)connect.
func NewMQTTClient(broker, clientID string, onConnect MQTT.OnConnectHandler) (MQTT.Client, error) {
	opts := MQTT.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(onConnect)
	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(30*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, token.Error())
	}
	return client, nil
}

// Match reports whether topic matches a subscription filter with + and #
// wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
