package sensor

import (
	"context"
	"encoding/json"
	"time"

	"greenhouse/internal/metrics"

	"go.uber.org/zap"
)

// Publisher sends a payload to a topic
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Message is the wire form of one measurement cycle
type Message struct {
	InputID      string       `json:"input_id"`
	Measurements Measurements `json:"measurements"`
}

// MeasurementTopic is where an input publishes its readings
func MeasurementTopic(inputID string) string {
	return "inputs/" + inputID + "/measurements"
}

// Poller runs the reader on a fixed period and publishes the results
type Poller struct {
	inputID string
	reader  *Reader
	period  time.Duration
	pub     Publisher
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewPoller(inputID string, reader *Reader, period time.Duration, pub Publisher, log *zap.Logger, m *metrics.Metrics) *Poller {
	return &Poller{
		inputID: inputID,
		reader:  reader,
		period:  period,
		pub:     pub,
		log:     log,
		metrics: m,
	}
}

// Run polls until ctx is done
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("input started", zap.String("input", p.inputID), zap.Duration("period", p.period))
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	p.Poll()
	for {
		select {
		case <-ctx.Done():
			p.log.Info("input stopped", zap.String("input", p.inputID))
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll takes and publishes a single measurement cycle
func (p *Poller) Poll() {
	meas, err := p.reader.GetMeasurement()
	if err != nil {
		p.metrics.SensorRead(p.inputID, "error")
		p.log.Error("input raised an error when taking a reading", zap.String("input", p.inputID), zap.Error(err))
		return
	}
	p.metrics.SensorRead(p.inputID, "ok")

	payload, err := json.Marshal(Message{InputID: p.inputID, Measurements: meas.Populated()})
	if err != nil {
		p.log.Error("encoding measurements", zap.Error(err))
		return
	}
	if err := p.pub.Publish(MeasurementTopic(p.inputID), payload); err != nil {
		p.log.Warn("publishing measurements", zap.String("input", p.inputID), zap.Error(err))
	}
}
