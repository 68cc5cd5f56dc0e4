package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"greenhouse/internal/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeControl struct {
	calls []string
}

func (f *fakeControl) RefreshConditionalSettings(_ context.Context, id string) (string, error) {
	f.calls = append(f.calls, "refresh:"+id)
	if id == "stopped" {
		return "", errors.New("stopped: conditional controller not running")
	}
	return "Conditional settings successfully refreshed", nil
}

func (f *fakeControl) ControllerActivate(_ context.Context, id string) (string, error) {
	f.calls = append(f.calls, "activate:"+id)
	return "activated " + id, nil
}

func (f *fakeControl) ControllerDeactivate(_ context.Context, id string) (string, error) {
	f.calls = append(f.calls, "deactivate:"+id)
	return "deactivated " + id, nil
}

func TestClientServerRoundTrip(t *testing.T) {
	bus := mqtt.NewMemory()
	control := &fakeControl{}
	srv := NewServer(bus, control, time.Second, zap.NewNop())
	require.NoError(t, srv.Start())

	client, err := NewClient(bus, "web-1", time.Second, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := client.RefreshConditionalSettings(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Conditional settings successfully refreshed", resp)

	resp, err = client.ControllerActivate(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "activated c1", resp)

	resp, err = client.ControllerDeactivate(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "deactivated c1", resp)

	_, err = client.RefreshConditionalSettings(ctx, "stopped")
	assert.ErrorContains(t, err, "not running")

	assert.Equal(t, []string{"refresh:c1", "activate:c1", "deactivate:c1", "refresh:stopped"}, control.calls)
	assert.Empty(t, client.pending)
}

func TestClientTimeout(t *testing.T) {
	bus := mqtt.NewMemory()
	client, err := NewClient(bus, "web-1", 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	_, err = client.ControllerActivate(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, client.pending)
}

func TestServerStop(t *testing.T) {
	bus := mqtt.NewMemory()
	control := &fakeControl{}
	srv := NewServer(bus, control, time.Second, zap.NewNop())
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Stop())

	client, err := NewClient(bus, "web-1", 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	_, err = client.ControllerActivate(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, control.calls)
}
