package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"greenhouse/internal/conditional"
	"greenhouse/internal/models"
	"greenhouse/internal/mqtt"
	store "greenhouse/internal/redis"
	"greenhouse/internal/testutil"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMail struct{ to, subject, body string }

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(to, subject, body string) error {
	m.sent = append(m.sent, sentMail{to, subject, body})
	return m.err
}

type fakeControllers struct {
	calls []string
	fail  bool
}

func (c *fakeControllers) outcome(action string) *conditional.Outcome {
	o := &conditional.Outcome{Action: action}
	if c.fail {
		o.Errors = append(o.Errors, &conditional.ValidationError{Msg: "No Actions found"})
	}
	return o
}

func (c *fakeControllers) Activate(_ context.Context, id string) *conditional.Outcome {
	c.calls = append(c.calls, "activate:"+id)
	return c.outcome("Activate Conditional")
}

func (c *fakeControllers) Deactivate(_ context.Context, id string) *conditional.Outcome {
	c.calls = append(c.calls, "deactivate:"+id)
	return c.outcome("Deactivate Conditional")
}

type received struct{ topic, payload string }

func setupExecutor(t *testing.T, actions ...models.Action) (*Executor, *fakeMailer, *fakeControllers, *[]received, *store.OutputStates) {
	t.Helper()
	orm := testutil.DB(t)
	for _, a := range actions {
		require.NoError(t, orm.Create(&a).Error)
	}
	client, _ := testutil.Redis(t)
	outputs := store.NewOutputStates(client)

	bus := mqtt.NewMemory()
	var got []received
	require.NoError(t, bus.Subscribe("#", func(topic string, payload []byte) {
		got = append(got, received{topic, string(payload)})
	}))

	mailer := &fakeMailer{}
	controllers := &fakeControllers{}
	return NewExecutor(orm, bus, outputs, mailer, controllers, zap.NewNop()), mailer, controllers, &got, outputs
}

func TestRunActions(t *testing.T) {
	ctx := context.Background()
	x, mailer, controllers, got, outputs := setupExecutor(t,
		models.Action{UniqueID: "a1", FunctionID: "c1", ActionType: models.ActionOutput, DoUniqueID: "fan", DoOutputState: "on", DoOutputDuration: 30},
		models.Action{UniqueID: "a2", FunctionID: "c1", ActionType: models.ActionMQTTPublish, DoActionString: "greenhouse/alerts"},
		models.Action{UniqueID: "a3", FunctionID: "c1", ActionType: models.ActionEmail, DoActionString: "grower@example.com", DoPayload: "Too hot"},
		models.Action{UniqueID: "a4", FunctionID: "c1", ActionType: models.ActionDeactivateController, DoUniqueID: "c2"},
		models.Action{UniqueID: "other", FunctionID: "c9", ActionType: models.ActionMQTTPublish, DoActionString: "never"},
	)

	require.NoError(t, x.RunActions(ctx, "c1", "[Conditional c1]"))

	require.Len(t, *got, 2)
	assert.Equal(t, "outputs/fan/commands", (*got)[0].topic)
	var cmd OutputCommand
	require.NoError(t, json.Unmarshal([]byte((*got)[0].payload), &cmd))
	assert.Equal(t, OutputCommand{State: "on", Duration: 30}, cmd)
	assert.Equal(t, received{"greenhouse/alerts", "[Conditional c1]"}, (*got)[1])

	state, err := outputs.Get(ctx, "fan")
	require.NoError(t, err)
	assert.Equal(t, "on", state)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "grower@example.com", mailer.sent[0].to)
	assert.Equal(t, "Too hot\n\n[Conditional c1]", mailer.sent[0].body)

	assert.Equal(t, []string{"deactivate:c2"}, controllers.calls)
}

func TestRunActions_FailureDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	x, mailer, controllers, got, _ := setupExecutor(t,
		models.Action{UniqueID: "a1", FunctionID: "c1", ActionType: models.ActionEmail, DoActionString: "grower@example.com"},
		models.Action{UniqueID: "a2", FunctionID: "c1", ActionType: models.ActionActivateController, DoUniqueID: "c2"},
		models.Action{UniqueID: "a3", FunctionID: "c1", ActionType: models.ActionMQTTPublish, DoActionString: "t", DoPayload: "p"},
	)
	mailer.err = errors.New("relay refused")
	controllers.fail = true

	err := x.RunActions(ctx, "c1", "msg")
	require.Error(t, err)
	assert.ErrorContains(t, err, "relay refused")
	assert.ErrorContains(t, err, "No Actions found")
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, []received{{"t", "p"}}, *got)
}

func TestHandleRunActions_PartialFailureNotRetried(t *testing.T) {
	x, mailer, _, got, _ := setupExecutor(t,
		models.Action{UniqueID: "a1", FunctionID: "vent", ActionType: models.ActionMQTTPublish, DoActionString: "greenhouse/vent", DoPayload: "open"},
		models.Action{UniqueID: "a2", FunctionID: "vent", ActionType: models.ActionEmail, DoActionString: "grower@example.com"},
	)
	mailer.err = errors.New("relay refused")
	w := &Worker{exec: x, log: zap.NewNop()}

	task, err := NewRunActionsTask("vent", "triggered")
	require.NoError(t, err)
	err = w.HandleRunActions(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, []received{{"greenhouse/vent", "open"}}, *got)
}

func TestRunActions_AllFailedIsRetried(t *testing.T) {
	x, mailer, _, _, _ := setupExecutor(t,
		models.Action{UniqueID: "a1", FunctionID: "vent", ActionType: models.ActionEmail, DoActionString: "grower@example.com"},
	)
	mailer.err = errors.New("relay refused")

	err := x.RunActions(context.Background(), "vent", "triggered")
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleRunActions(t *testing.T) {
	x, _, _, got, _ := setupExecutor(t,
		models.Action{UniqueID: "a1", FunctionID: "c1", ActionType: models.ActionMQTTPublish, DoActionString: "t"},
	)
	w := &Worker{exec: x, log: zap.NewNop()}

	task, err := NewRunActionsTask("c1", "triggered")
	require.NoError(t, err)
	require.NoError(t, w.HandleRunActions(context.Background(), task))
	assert.Equal(t, []received{{"t", "triggered"}}, *got)

	err = w.HandleRunActions(context.Background(), asynq.NewTask(TypeRunActions, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
