package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Worker runs queued tasks
type Worker struct {
	srv  *asynq.Server
	mux  *asynq.ServeMux
	exec *Executor
	log  *zap.Logger
}

// NewWorker builds the asynq server and registers the handlers
func NewWorker(redisAddr string, concurrency int, exec *Executor, log *zap.Logger) *Worker {
	w := &Worker{
		srv: asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
			Concurrency: concurrency,
			Logger:      log.Sugar(),
		}),
		mux:  asynq.NewServeMux(),
		exec: exec,
		log:  log,
	}
	w.mux.HandleFunc(TypeRunActions, w.HandleRunActions)
	return w
}

// Start starts processing in the background
func (w *Worker) Start() error {
	w.log.Info("starting workers")
	return w.srv.Start(w.mux)
}

// Stop waits for in-flight tasks and stops
func (w *Worker) Stop() {
	w.log.Info("stopping workers")
	w.srv.Shutdown()
}

// HandleRunActions executes the actions named by a RunActionsPayload
func (w *Worker) HandleRunActions(ctx context.Context, t *asynq.Task) error {
	var p RunActionsPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	w.log.Info("running actions", zap.String("conditional", p.ConditionalID))
	return w.exec.RunActions(ctx, p.ConditionalID, p.Message)
}
