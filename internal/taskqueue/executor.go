// Package taskqueue runs the Actions of triggered Conditionals on asynq
// workers.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"greenhouse/internal/conditional"
	"greenhouse/internal/db"
	"greenhouse/internal/models"
	"greenhouse/internal/mqtt"
	store "greenhouse/internal/redis"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutputCommand is published to outputs/<id>/commands
type OutputCommand struct {
	State string `json:"state"`
	// Duration in seconds; 0 keeps the state until the next command
	Duration float64 `json:"duration,omitempty"`
}

// OutputCommandTopic is where an output listens for commands
func OutputCommandTopic(outputID string) string {
	return "outputs/" + outputID + "/commands"
}

// Controllers switches Conditionals on and off; *conditional.Editor
// satisfies it.
type Controllers interface {
	Activate(ctx context.Context, id string) *conditional.Outcome
	Deactivate(ctx context.Context, id string) *conditional.Outcome
}

// Executor performs the Actions of a Conditional
type Executor struct {
	orm         *gorm.DB
	bus         mqtt.Bus
	outputs     *store.OutputStates
	mailer      Mailer
	controllers Controllers
	log         *zap.Logger
}

func NewExecutor(orm *gorm.DB, bus mqtt.Bus, outputs *store.OutputStates, mailer Mailer, controllers Controllers, log *zap.Logger) *Executor {
	return &Executor{
		orm:         orm,
		bus:         bus,
		outputs:     outputs,
		mailer:      mailer,
		controllers: controllers,
		log:         log,
	}
}

// RunActions executes every Action of the Conditional. One failing Action
// does not stop the others. Once any Action has run the error wraps
// asynq.SkipRetry, so a retry never repeats an Action that already ran.
func (x *Executor) RunActions(ctx context.Context, conditionalID, message string) error {
	actions, err := db.GetActions(ctx, x.orm, conditionalID)
	if err != nil {
		return fmt.Errorf("load actions of %s: %w", conditionalID, err)
	}

	var errs []error
	done := 0
	for _, a := range actions {
		if err := x.execute(ctx, a, message); err != nil {
			x.log.Error("action failed",
				zap.String("conditional", conditionalID),
				zap.String("action", a.UniqueID),
				zap.String("type", a.ActionType),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("action %s: %w", a.UniqueID, err))
			continue
		}
		done++
		x.log.Debug("action done", zap.String("action", a.UniqueID), zap.String("type", a.ActionType))
	}
	if len(errs) == 0 {
		return nil
	}
	if done > 0 {
		errs = append(errs, asynq.SkipRetry)
	}
	return errors.Join(errs...)
}

func (x *Executor) execute(ctx context.Context, a models.Action, message string) error {
	switch a.ActionType {
	case models.ActionOutput:
		payload, err := json.Marshal(OutputCommand{State: a.DoOutputState, Duration: a.DoOutputDuration})
		if err != nil {
			return err
		}
		if err := x.bus.Publish(OutputCommandTopic(a.DoUniqueID), payload); err != nil {
			return err
		}
		return x.outputs.Set(ctx, a.DoUniqueID, a.DoOutputState)

	case models.ActionMQTTPublish:
		payload := a.DoPayload
		if payload == "" {
			payload = message
		}
		return x.bus.Publish(a.DoActionString, []byte(payload))

	case models.ActionEmail:
		body := message
		if a.DoPayload != "" {
			body = a.DoPayload + "\n\n" + message
		}
		return x.mailer.Send(a.DoActionString, "Conditional triggered", body)

	case models.ActionActivateController:
		return outcomeErr(x.controllers.Activate(ctx, a.DoUniqueID))

	case models.ActionDeactivateController:
		return outcomeErr(x.controllers.Deactivate(ctx, a.DoUniqueID))

	default:
		return fmt.Errorf("unknown action type %q", a.ActionType)
	}
}

func outcomeErr(o *conditional.Outcome) error {
	if !o.Failed() {
		return nil
	}
	_, msg := o.Summary()
	return errors.New(msg)
}
