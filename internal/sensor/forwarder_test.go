package sensor

import (
	"errors"
	"io"
	"math"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"greenhouse/internal/metrics"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSerial struct {
	writes  []string
	openErr error
	opened  []string
}

func (f *fakeSerial) open(device string, baud int) (io.WriteCloser, error) {
	f.opened = append(f.opened, device)
	if f.openErr != nil {
		return nil, f.openErr
	}
	if baud != 9600 {
		return nil, errors.New("unexpected baud rate")
	}
	return recordingPort{serial: f}, nil
}

type recordingPort struct {
	serial *fakeSerial
}

func (p recordingPort) Write(b []byte) (int, error) {
	p.serial.writes = append(p.serial.writes, string(b))
	return len(b), nil
}

func (p recordingPort) Close() error { return nil }

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestForwarder(t *testing.T, log *zap.Logger) (*Forwarder, *fakeSerial, *clock) {
	t.Helper()
	serial := &fakeSerial{}
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	f := NewForwarder(ForwarderConfig{
		Device:      "/dev/ttyUSB0",
		LockFile:    filepath.Join(t.TempDir(), "ttn.lock"),
		LockTimeout: 100 * time.Millisecond,
		Interval:    80 * time.Second,
		SettleDelay: 4 * time.Second,
	}, log, nil)
	f.open = serial.open
	f.now = clk.now
	f.sleep = func(time.Duration) {}
	return f, serial, clk
}

func sample() Measurements {
	m := newMeasurements()
	ts := time.Now()
	m.set(ChannelTemperature, 21.5, ts)
	m.set(ChannelHumidity, 40.25, ts)
	m.set(ChannelPressure, 100812, ts)
	return m
}

func TestRecord(t *testing.T) {
	assert.Equal(t, "B,40.25,100812.0,21.5", Record(sample()))

	m := newMeasurements()
	m.set(ChannelPressure, 99000, time.Now())
	assert.Equal(t, "B,,99000.0,", Record(m))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "100812.0", formatValue(100812))
	assert.Equal(t, "21.5", formatValue(21.5))
	assert.Equal(t, "-3.0", formatValue(-3))
	assert.Equal(t, "0.1", formatValue(0.1))
	assert.Equal(t, "nan", formatValue(math.NaN()))
}

func TestForwarder_RateLimited(t *testing.T) {
	f, serial, clk := newTestForwarder(t, zap.NewNop())

	f.Forward(sample())
	for i := 0; i < 20; i++ {
		clk.advance(3 * time.Second)
		f.Forward(sample())
	}
	// 60s elapsed, still inside the first window
	assert.Len(t, serial.writes, 1)

	clk.advance(21 * time.Second)
	f.Forward(sample())
	assert.Len(t, serial.writes, 2)
	assert.Equal(t, "B,40.25,100812.0,21.5", serial.writes[1])
}

func TestForwarder_LockTimeoutSkipsWrite(t *testing.T) {
	f, serial, _ := newTestForwarder(t, zap.NewNop())
	f.metrics = metrics.New()

	holder := flock.New(f.cfg.LockFile)
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer holder.Unlock()

	assert.NotPanics(t, func() { f.Forward(sample()) })
	assert.Empty(t, serial.writes)
	assert.Empty(t, serial.opened)
	assert.False(t, f.serialError)

	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `greenhouse_sensor_serial_forwards_total{result="skipped"} 1`)
}

func TestForwarder_LockReleasedAfterWrite(t *testing.T) {
	f, serial, _ := newTestForwarder(t, zap.NewNop())
	f.Forward(sample())
	require.Len(t, serial.writes, 1)

	other := flock.New(f.cfg.LockFile)
	locked, err := other.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	_ = other.Unlock()
}

func TestForwarder_LockReleasedAfterFailure(t *testing.T) {
	f, serial, _ := newTestForwarder(t, zap.NewNop())
	serial.openErr = errors.New("no such device")
	f.Forward(sample())

	other := flock.New(f.cfg.LockFile)
	locked, err := other.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	_ = other.Unlock()
}

func TestForwarder_ErrorLoggedOncePerStreak(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	f, serial, clk := newTestForwarder(t, zap.New(core))
	serial.openErr = errors.New("no such device")

	for i := 0; i < 3; i++ {
		f.Forward(sample())
		clk.advance(81 * time.Second)
	}
	assert.Equal(t, 1, logs.Len())
	assert.True(t, f.serialError)

	serial.openErr = nil
	f.Forward(sample())
	clk.advance(81 * time.Second)
	assert.False(t, f.serialError)
	assert.Len(t, serial.writes, 1)

	serial.openErr = errors.New("unplugged")
	f.Forward(sample())
	assert.Equal(t, 2, logs.Len())
}

func TestReader_ForwardsAfterReading(t *testing.T) {
	f, serial, _ := newTestForwarder(t, zap.NewNop())
	r := NewReader(&fakeSensor{temp: 18, hum: 70, pres: 101000}, NewChannelSet(0, 1, 2), f)

	_, err := r.GetMeasurement()
	require.NoError(t, err)
	require.Len(t, serial.writes, 1)
	assert.Equal(t, "B,70,101000,18", serial.writes[0])
}
