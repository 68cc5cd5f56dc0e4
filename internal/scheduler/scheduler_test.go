package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAddOrUpdate(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	require.NoError(t, s.AddOrUpdate("ticks", "@every 1s", func() {}))
	require.NoError(t, s.AddOrUpdate("ticks", "@every 2s", func() {}))
	assert.Equal(t, 1, s.Count())
	assert.Len(t, s.cron.Entries(), 1)

	assert.Error(t, s.AddOrUpdate("bad", "not a spec", func() {}))
	assert.Equal(t, 1, s.Count())

	s.Remove("ticks")
	s.Remove("ticks")
	assert.Equal(t, 0, s.Count())
	assert.Empty(t, s.cron.Entries())
}
