package sensor

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"greenhouse/internal/metrics"

	"github.com/gofrs/flock"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	serialBaudRate = 9600
	lockRetryDelay = 50 * time.Millisecond
)

// SerialOpener opens the serial device for writing
type SerialOpener func(device string, baud int) (io.WriteCloser, error)

// OpenSerial opens a real serial port
func OpenSerial(device string, baud int) (io.WriteCloser, error) {
	return serial.Open(device, &serial.Mode{BaudRate: baud})
}

// Locker is a cross-process lock; *flock.Flock satisfies it
type Locker interface {
	TryLockContext(ctx context.Context, retryDelay time.Duration) (bool, error)
	Unlock() error
}

// ForwarderConfig configures the serial relay
type ForwarderConfig struct {
	Device      string
	LockFile    string
	LockTimeout time.Duration
	Interval    time.Duration
	// SettleDelay is how long the lock stays held after a write so the
	// LoRaWAN bridge can transmit before another process writes.
	SettleDelay time.Duration
}

// Forwarder relays humidity, pressure and temperature to a serial device at
// most once per Interval.
type Forwarder struct {
	cfg     ForwarderConfig
	log     *zap.Logger
	metrics *metrics.Metrics

	open    SerialOpener
	newLock func(path string) Locker
	now     func() time.Time
	sleep   func(time.Duration)

	deadline time.Time
	// serialError suppresses repeated failure logs until a forward completes
	serialError bool
}

func NewForwarder(cfg ForwarderConfig, log *zap.Logger, m *metrics.Metrics) *Forwarder {
	return &Forwarder{
		cfg:     cfg,
		log:     log,
		metrics: m,
		open:    OpenSerial,
		newLock: func(path string) Locker { return flock.New(path) },
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Record formats the serial line. "B" marks BME280 data; unset values are
// left empty.
func Record(meas Measurements) string {
	field := func(ch int) string {
		if v, ok := meas.Get(ch); ok {
			return formatValue(v)
		}
		return ""
	}
	return fmt.Sprintf("B,%s,%s,%s",
		field(ChannelHumidity),
		field(ChannelPressure),
		field(ChannelTemperature))
}

// formatValue renders a reading the way the LoRaWAN bridge expects:
// shortest form, integral values keep a ".0".
func formatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Forward sends the record if the interval elapsed. Failures are logged once
// per streak and never returned.
func (f *Forwarder) Forward(meas Measurements) {
	if err := f.forward(meas); err != nil {
		f.metrics.SerialForward("failed")
		if !f.serialError {
			f.log.Error("TTN: could not send serial", zap.String("device", f.cfg.Device), zap.Error(err))
			f.serialError = true
		}
	}
}

func (f *Forwarder) forward(meas Measurements) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("serial forward panic: %v", r)
		}
	}()

	now := f.now()
	if !now.After(f.deadline) {
		return nil
	}
	f.deadline = now.Add(f.cfg.Interval)

	record := Record(meas)
	lock := f.newLock(f.cfg.LockFile)

	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.LockTimeout)
	defer cancel()
	f.log.Debug("acquiring lock", zap.String("lock", f.cfg.LockFile), zap.Duration("timeout", f.cfg.LockTimeout))
	locked, lockErr := lock.TryLockContext(ctx, lockRetryDelay)

	if locked {
		if err := f.write(lock, record); err != nil {
			return err
		}
		f.metrics.SerialForward("sent")
	} else {
		f.log.Debug("lock unable to be acquired, skipping serial forward",
			zap.String("lock", f.cfg.LockFile), zap.Error(lockErr))
		f.metrics.SerialForward("skipped")
	}
	f.serialError = false
	return nil
}

func (f *Forwarder) write(lock Locker, record string) error {
	defer func() {
		if err := lock.Unlock(); err != nil {
			f.log.Debug("releasing lock", zap.String("lock", f.cfg.LockFile), zap.Error(err))
		}
	}()

	port, err := f.open(f.cfg.Device, serialBaudRate)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.cfg.Device, err)
	}
	defer port.Close()

	if _, err := port.Write([]byte(record)); err != nil {
		return fmt.Errorf("write %s: %w", f.cfg.Device, err)
	}
	f.sleep(f.cfg.SettleDelay)
	return nil
}
