package engine

import (
	"time"

	"greenhouse/internal/models"

	"github.com/expr-lang/expr/vm"
)

// Controller holds the timers of one active Conditional
type Controller struct {
	conditional models.Conditional
	conditions  map[string]models.ConditionalCondition
	program     *vm.Program

	timer           time.Time
	refractoryUntil time.Time
}

func newController(cond models.Conditional, conditions []models.ConditionalCondition, program *vm.Program, now time.Time) *Controller {
	byID := make(map[string]models.ConditionalCondition, len(conditions))
	for _, c := range conditions {
		byID[c.UniqueID] = c
	}
	return &Controller{
		conditional: cond,
		conditions:  byID,
		program:     program,
		timer:       now.Add(seconds(cond.StartOffset)),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// due reports whether the statement should be checked at now. When it is,
// the timer moves past now by whole periods and the refractory window opens.
func (c *Controller) due(now time.Time) bool {
	if !now.After(c.timer) || !now.After(c.refractoryUntil) {
		return false
	}

	period := seconds(c.conditional.Period)
	if period <= 0 {
		period = time.Second
	}
	for !c.timer.After(now) {
		c.timer = c.timer.Add(period)
	}
	if c.conditional.RefractoryPeriod > 0 {
		c.refractoryUntil = now.Add(seconds(c.conditional.RefractoryPeriod))
	}
	return true
}
