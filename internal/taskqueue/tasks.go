package taskqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypeRunActions runs every Action of a Conditional whose statement was true
const TypeRunActions = "conditional:run_actions"

// RunActionsPayload for tasks
type RunActionsPayload struct {
	ConditionalID string `json:"conditional_id"`
	// Message describes the trigger and is passed to email and MQTT actions
	Message string `json:"message"`
}

// NewRunActionsTask builds the task for a triggered Conditional
func NewRunActionsTask(conditionalID, message string) (*asynq.Task, error) {
	payload, err := json.Marshal(RunActionsPayload{ConditionalID: conditionalID, Message: message})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRunActions, payload, asynq.MaxRetry(3), asynq.Timeout(30*time.Second)), nil
}

// Enqueuer submits tasks to the queue
type Enqueuer struct {
	client *asynq.Client
	log    *zap.Logger
}

func NewEnqueuer(redisAddr string, log *zap.Logger) *Enqueuer {
	return &Enqueuer{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		log:    log,
	}
}

// EnqueueRunActions queues the actions of a triggered Conditional
func (e *Enqueuer) EnqueueRunActions(conditionalID, message string) error {
	task, err := NewRunActionsTask(conditionalID, message)
	if err != nil {
		return err
	}
	info, err := e.client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue actions of %s: %w", conditionalID, err)
	}
	e.log.Debug("enqueued actions", zap.String("conditional", conditionalID), zap.String("task", info.ID))
	return nil
}

func (e *Enqueuer) Close() error {
	return e.client.Close()
}
