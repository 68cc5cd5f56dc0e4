package conditional

import (
	"math"
	"testing"

	"greenhouse/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeStore_SaveLoadEvaluate(t *testing.T) {
	store := NewCodeStore(t.TempDir())
	require.NoError(t, store.Save("abc", `Measurement("t") > 25 && OutputState("fan") == "off"`))

	program, err := store.Load("abc")
	require.NoError(t, err)

	env := StatementEnv{
		Measurement: func(string) float64 { return 27 },
		GPIOState:   func(string) int { return -1 },
		OutputState: func(string) string { return "off" },
	}
	ok, err := Evaluate(program, env)
	require.NoError(t, err)
	assert.True(t, ok)

	env.Measurement = func(string) float64 { return math.NaN() }
	ok, err = Evaluate(program, env)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Remove("abc"))
	require.NoError(t, store.Remove("abc"))
	_, err = store.Load("abc")
	assert.Error(t, err)
}

func TestCodeStore_Compile(t *testing.T) {
	store := NewCodeStore(t.TempDir())

	_, err := store.Compile("")
	assert.True(t, IsValidation(err))

	_, err = store.Compile(`Measurement("t") + 1`)
	assert.True(t, IsValidation(err), "non-bool statements are rejected")

	_, err = store.Compile(`Humidity("t") > 1`)
	assert.True(t, IsValidation(err))

	_, err = store.Compile(`GPIOState("door") == 0 || Measurement("t") < 5`)
	assert.NoError(t, err)
}

func TestFromModel(t *testing.T) {
	c, err := FromModel(models.ConditionalCondition{ConditionType: models.ConditionMeasurementDict, Measurement: "m", MaxAge: 5})
	require.NoError(t, err)
	assert.Equal(t, MeasurementCondition{Dict: true, Measurement: "m", MaxAge: 5}, c)
	assert.Equal(t, models.ConditionMeasurementDict, c.Type())
	assert.Empty(t, c.Validate())

	c, err = FromModel(models.ConditionalCondition{ConditionType: models.ConditionOutputState})
	require.NoError(t, err)
	assert.Len(t, c.Validate(), 1)

	_, err = FromModel(models.ConditionalCondition{ConditionType: "edge"})
	assert.True(t, IsValidation(err))
}

func TestCheckAction(t *testing.T) {
	tests := []struct {
		name   string
		action models.Action
		errs   int
	}{
		{"output ok", models.Action{ActionType: models.ActionOutput, DoUniqueID: "o", DoOutputState: "on"}, 0},
		{"output missing everything", models.Action{ActionType: models.ActionOutput, DoOutputDuration: -1}, 3},
		{"mqtt ok", models.Action{ActionType: models.ActionMQTTPublish, DoActionString: "t"}, 0},
		{"mqtt no topic", models.Action{ActionType: models.ActionMQTTPublish}, 1},
		{"email ok", models.Action{ActionType: models.ActionEmail, DoActionString: "grower@example.com"}, 0},
		{"email bad", models.Action{ActionType: models.ActionEmail, DoActionString: "grower"}, 1},
		{"activate no target", models.Action{ActionType: models.ActionActivateController}, 1},
		{"unknown", models.Action{ActionType: "sms"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, CheckAction(tt.action), tt.errs)
		})
	}
}
