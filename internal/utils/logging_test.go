package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("debug", "development")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(-1))

	_, err = NewLogger("loud", "production")
	assert.Error(t, err)
}

func TestCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ParseCSV("a, b,,c"))
	assert.Nil(t, ParseCSV(""))
	assert.Equal(t, "a,b", JoinCSV([]string{"a", "b"}))
	assert.Equal(t, "", JoinCSV(nil))
}
