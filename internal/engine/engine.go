// Package engine is the daemon runtime: it caches incoming measurements and
// runs one controller per active Conditional.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"greenhouse/internal/conditional"
	"greenhouse/internal/db"
	"greenhouse/internal/metrics"
	"greenhouse/internal/mqtt"
	store "greenhouse/internal/redis"
	"greenhouse/internal/scheduler"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tickJobID = "conditional-ticks"

// RefreshResponse is returned by a successful RefreshConditionalSettings
const RefreshResponse = "Conditional settings successfully refreshed"

// Enqueuer hands triggered Conditionals to the action workers
type Enqueuer interface {
	EnqueueRunActions(conditionalID, message string) error
}

// Deps are the collaborators of an Engine. GPIO may be nil on hosts without
// GPIO; gpio_state conditions then read -1.
type Deps struct {
	DB        *gorm.DB
	Bus       mqtt.Bus
	Cache     *store.MeasurementCache
	Outputs   *store.OutputStates
	Code      *conditional.CodeStore
	Scheduler *scheduler.Scheduler
	Queue     Enqueuer
	GPIO      GPIOReader
	Log       *zap.Logger
	Metrics   *metrics.Metrics
}

// Engine is the core control engine
type Engine struct {
	Deps
	now func() time.Time

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewEngine creates a new engine instance
func NewEngine(deps Deps) *Engine {
	return &Engine{
		Deps:        deps,
		now:         time.Now,
		controllers: make(map[string]*Controller),
	}
}

// Start subscribes to measurements, starts a controller for every active
// Conditional and schedules the check loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Bus.Subscribe(measurementFilter, e.onMeasurement); err != nil {
		return fmt.Errorf("subscribe measurements: %w", err)
	}

	active, err := db.GetActiveConditionals(ctx, e.DB)
	if err != nil {
		return fmt.Errorf("load active conditionals: %w", err)
	}
	e.Log.Info("starting conditional controllers", zap.Int("count", len(active)))
	for _, c := range active {
		if _, err := e.ControllerActivate(ctx, c.UniqueID); err != nil {
			e.Log.Error("could not start controller", zap.String("conditional", c.UniqueID), zap.Error(err))
		}
	}

	if err := e.Scheduler.AddOrUpdate(tickJobID, "@every 1s", e.Tick); err != nil {
		return err
	}
	e.Log.Info("engine started")
	return nil
}

// Stop stops checking and drops every controller
func (e *Engine) Stop() {
	e.Scheduler.Remove(tickJobID)
	if err := e.Bus.Unsubscribe(measurementFilter); err != nil {
		e.Log.Warn("unsubscribe measurements", zap.Error(err))
	}
	e.mu.Lock()
	e.controllers = make(map[string]*Controller)
	e.mu.Unlock()
	e.Metrics.SetActiveControllers(0)
	e.Log.Info("engine stopped")
}

// Running reports whether a controller exists for the Conditional
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.controllers[id]
	return ok
}

func (e *Engine) load(ctx context.Context, id string) (*Controller, error) {
	cond, err := db.GetConditional(ctx, e.DB, id)
	if err != nil {
		return nil, fmt.Errorf("load conditional %s: %w", id, err)
	}
	conditions, err := db.GetConditionalConditions(ctx, e.DB, id)
	if err != nil {
		return nil, fmt.Errorf("load conditions of %s: %w", id, err)
	}
	program, err := e.Code.Load(id)
	if err != nil {
		// The artifact is regenerated from the stored statement
		if program, err = e.Code.Compile(cond.ConditionalStatement); err != nil {
			return nil, fmt.Errorf("compile conditional %s: %w", id, err)
		}
		if err := e.Code.Save(id, cond.ConditionalStatement); err != nil {
			e.Log.Warn("could not rewrite conditional code", zap.String("conditional", id), zap.Error(err))
		}
	}
	return newController(*cond, conditions, program, e.now()), nil
}

func (e *Engine) put(id string, c *Controller) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c == nil {
		delete(e.controllers, id)
	} else {
		e.controllers[id] = c
	}
	return len(e.controllers)
}

// ControllerActivate starts (or restarts) the controller of a Conditional
func (e *Engine) ControllerActivate(ctx context.Context, id string) (string, error) {
	c, err := e.load(ctx, id)
	if err != nil {
		return "", err
	}
	e.Metrics.SetActiveControllers(e.put(id, c))
	e.Log.Info("conditional controller activated", zap.String("conditional", id), zap.String("name", c.conditional.Name))
	return fmt.Sprintf("Conditional controller %s activated", id), nil
}

// ControllerDeactivate stops the controller of a Conditional
func (e *Engine) ControllerDeactivate(_ context.Context, id string) (string, error) {
	if !e.Running(id) {
		return fmt.Sprintf("Conditional controller %s not running", id), nil
	}
	e.Metrics.SetActiveControllers(e.put(id, nil))
	e.Log.Info("conditional controller deactivated", zap.String("conditional", id))
	return fmt.Sprintf("Conditional controller %s deactivated", id), nil
}

// ErrNotRunning is returned when refreshing a Conditional with no controller
var ErrNotRunning = errors.New("conditional controller not running")

// RefreshConditionalSettings reloads settings, conditions and statement.
// Timers restart as on activation.
func (e *Engine) RefreshConditionalSettings(ctx context.Context, id string) (string, error) {
	if !e.Running(id) {
		return "", fmt.Errorf("%s: %w", id, ErrNotRunning)
	}
	c, err := e.load(ctx, id)
	if err != nil {
		return "", err
	}
	// A deactivation during load wins
	e.mu.Lock()
	_, running := e.controllers[id]
	if running {
		e.controllers[id] = c
	}
	e.mu.Unlock()
	if !running {
		return "", fmt.Errorf("%s: %w", id, ErrNotRunning)
	}
	e.Log.Info("refreshing conditional settings", zap.String("conditional", id))
	return RefreshResponse, nil
}

// Tick checks every controller whose period has elapsed
func (e *Engine) Tick() {
	now := e.now()

	e.mu.Lock()
	due := make([]*Controller, 0, len(e.controllers))
	for _, c := range e.controllers {
		if c.due(now) {
			due = append(due, c)
		}
	}
	e.mu.Unlock()

	for _, c := range due {
		e.check(c, now)
	}
}

func (e *Engine) check(c *Controller, now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := c.conditional.UniqueID
	log := e.Log.With(zap.String("conditional", id))
	if c.conditional.LogLevelDebug {
		log.Info("checking conditional", zap.String("statement", c.conditional.ConditionalStatement))
	}

	result, err := conditional.Evaluate(c.program, e.env(ctx, c, now))
	if err != nil {
		e.Metrics.ConditionalCheck("error")
		log.Error("conditional statement failed", zap.Error(err))
		return
	}
	if !result {
		e.Metrics.ConditionalCheck("false")
		return
	}
	e.Metrics.ConditionalCheck("true")

	message := fmt.Sprintf("%s\n[Conditional %s]\n[Name: %s]\n[Conditional Statement]: %s",
		now.Format("2006-01-02 15:04:05"), id, c.conditional.Name, c.conditional.ConditionalStatement)
	if err := e.Queue.EnqueueRunActions(id, message); err != nil {
		log.Error("could not enqueue actions", zap.Error(err))
		return
	}
	log.Info("conditional triggered")
}
