// Package conditional edits Conditional rules, their Conditions and their
// Actions. Every operation reports through a single Outcome.
package conditional

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"greenhouse/internal/db"
	"greenhouse/internal/metrics"
	"greenhouse/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DaemonControl talks to the running daemon. Each call returns the daemon's
// human-readable response.
type DaemonControl interface {
	RefreshConditionalSettings(ctx context.Context, id string) (string, error)
	ControllerActivate(ctx context.Context, id string) (string, error)
	ControllerDeactivate(ctx context.Context, id string) (string, error)
}

// ConditionalForm is the submitted Conditional settings
type ConditionalForm struct {
	FunctionID           string  `form:"function_id" json:"function_id"`
	Name                 string  `form:"name" json:"name"`
	ConditionalStatement string  `form:"conditional_statement" json:"conditional_statement"`
	Period               float64 `form:"period" json:"period"`
	LogLevelDebug        bool    `form:"log_level_debug" json:"log_level_debug"`
	StartOffset          float64 `form:"start_offset" json:"start_offset"`
	RefractoryPeriod     float64 `form:"refractory_period" json:"refractory_period"`
}

// ConditionForm is a submitted Condition
type ConditionForm struct {
	ConditionalID string `form:"conditional_id" json:"conditional_id"`
	ConditionID   string `form:"conditional_condition_id" json:"conditional_condition_id"`
	ConditionType string `form:"condition_type" json:"condition_type"`
	Measurement   string `form:"measurement" json:"measurement"`
	MaxAge        int    `form:"max_age" json:"max_age"`
	GPIOPin       int    `form:"gpio_pin" json:"gpio_pin"`
	OutputID      string `form:"output_id" json:"output_id"`
}

// ActionForm is a submitted Action
type ActionForm struct {
	FunctionID       string  `form:"function_id" json:"function_id"`
	ActionID         string  `form:"function_action_id" json:"function_action_id"`
	ActionType       string  `form:"action_type" json:"action_type"`
	DoUniqueID       string  `form:"do_unique_id" json:"do_unique_id"`
	DoOutputState    string  `form:"do_output_state" json:"do_output_state"`
	DoOutputDuration float64 `form:"do_output_duration" json:"do_output_duration"`
	DoActionString   string  `form:"do_action_string" json:"do_action_string"`
	DoPayload        string  `form:"do_payload" json:"do_payload"`
}

// Operation names, as shown to the user in the result flash
const (
	OpAdd             = "Add Conditional"
	OpModify          = "Modify Conditional"
	OpDelete          = "Delete Conditional"
	OpActivate        = "Activate Conditional"
	OpDeactivate      = "Deactivate Conditional"
	OpAddCondition    = "Add Conditional Condition"
	OpModifyCondition = "Modify Conditional Condition"
	OpDeleteCondition = "Delete Conditional Condition"
	OpAddAction       = "Add Conditional Action"
	OpModifyAction    = "Modify Conditional Action"
	OpDeleteAction    = "Delete Conditional Action"
)

// Editor validates and persists rule changes
type Editor struct {
	orm     *gorm.DB
	code    *CodeStore
	daemon  DaemonControl
	log     *zap.Logger
	metrics *metrics.Metrics
	newID   func() string
}

// NewEditor builds an editor. daemon may be nil when no daemon is running;
// the database is then the only thing updated.
func NewEditor(orm *gorm.DB, code *CodeStore, daemon DaemonControl, log *zap.Logger, m *metrics.Metrics) *Editor {
	return &Editor{
		orm:     orm,
		code:    code,
		daemon:  daemon,
		log:     log,
		metrics: m,
		newID:   uuid.NewString,
	}
}

// SetDaemon attaches the daemon client once it is available
func (e *Editor) SetDaemon(d DaemonControl) {
	e.daemon = d
}

// run wraps an operation: panics become UnexpectedErrors and the result is
// logged and counted exactly once.
func (e *Editor) run(action string, fn func(o *Outcome)) (o *Outcome) {
	o = &Outcome{Action: action}
	defer func() {
		if r := recover(); r != nil {
			o.add(&UnexpectedError{Err: fmt.Errorf("%v", r)})
		}
		e.metrics.RuleEdit(action, !o.Failed())
		if o.Failed() {
			_, msg := o.Summary()
			e.log.Warn("rule edit failed", zap.String("action", action), zap.String("errors", msg))
		} else {
			e.log.Info("rule edited", zap.String("action", action), zap.String("id", o.ID))
		}
	}()
	fn(o)
	return o
}

// commit runs fn in one transaction and records its error, if any
func (e *Editor) commit(ctx context.Context, o *Outcome, fn func(tx *gorm.DB) error) bool {
	if err := e.orm.WithContext(ctx).Transaction(fn); err != nil {
		o.add(classify(err))
		return false
	}
	return true
}

// conditional loads the owning rule, recording a ValidationError when it is
// missing.
func (e *Editor) conditional(ctx context.Context, o *Outcome, id string) *models.Conditional {
	cond, err := db.GetConditional(ctx, e.orm, id)
	if errors.Is(err, db.ErrNotFound) {
		o.add(invalid("Conditional not found: %s", id))
		return nil
	}
	if err != nil {
		o.add(&PersistenceError{Err: err})
		return nil
	}
	return cond
}

func (e *Editor) daemonCall(ctx context.Context, o *Outcome, id string,
	call func(DaemonControl, context.Context, string) (string, error)) {
	if e.daemon == nil {
		return
	}
	resp, err := call(e.daemon, ctx, id)
	if err != nil {
		// The database change is already committed
		o.add(&UnexpectedError{Err: fmt.Errorf("daemon: %w", err)})
		return
	}
	o.notice("Daemon response: " + resp)
}

func (e *Editor) refresh(ctx context.Context, o *Outcome, id string) {
	e.daemonCall(ctx, o, id, DaemonControl.RefreshConditionalSettings)
}

// Add creates an inactive Conditional and appends it to the display order
func (e *Editor) Add(ctx context.Context, f ConditionalForm) *Outcome {
	return e.run(OpAdd, func(o *Outcome) {
		if f.ConditionalStatement != "" {
			if _, err := e.code.Compile(f.ConditionalStatement); err != nil {
				o.add(err)
				return
			}
		}

		cond := models.Conditional{
			UniqueID:             e.newID(),
			Name:                 f.Name,
			ConditionalStatement: f.ConditionalStatement,
			Period:               f.Period,
			LogLevelDebug:        f.LogLevelDebug,
			StartOffset:          f.StartOffset,
			RefractoryPeriod:     f.RefractoryPeriod,
		}
		if cond.Name == "" {
			cond.Name = "Conditional"
		}
		if cond.Period <= 0 {
			cond.Period = 60
		}

		ok := e.commit(ctx, o, func(tx *gorm.DB) error {
			if err := tx.Create(&cond).Error; err != nil {
				return err
			}
			return db.AppendFunctionOrder(ctx, tx, cond.UniqueID)
		})
		if !ok {
			return
		}
		o.ID = cond.UniqueID

		if cond.ConditionalStatement != "" {
			if err := e.code.Save(cond.UniqueID, cond.ConditionalStatement); err != nil {
				o.add(&UnexpectedError{Err: err})
			}
		}
	})
}

// Modify updates the settings of a Conditional. The statement is compiled
// first and nothing is saved when it fails.
func (e *Editor) Modify(ctx context.Context, f ConditionalForm) *Outcome {
	return e.run(OpModify, func(o *Outcome) {
		o.ID = f.FunctionID
		if _, err := e.code.Compile(f.ConditionalStatement); err != nil {
			o.add(err)
		}
		cond := e.conditional(ctx, o, f.FunctionID)
		if o.Failed() {
			return
		}

		ok := e.commit(ctx, o, func(tx *gorm.DB) error {
			return tx.Model(&models.Conditional{}).
				Where("unique_id = ?", cond.UniqueID).
				Updates(map[string]interface{}{
					"name":                  f.Name,
					"conditional_statement": f.ConditionalStatement,
					"period":                f.Period,
					"log_level_debug":       f.LogLevelDebug,
					"start_offset":          f.StartOffset,
					"refractory_period":     f.RefractoryPeriod,
				}).Error
		})
		if !ok {
			return
		}

		if err := e.code.Save(cond.UniqueID, f.ConditionalStatement); err != nil {
			o.add(&UnexpectedError{Err: err})
		}
		if cond.IsActivated {
			e.refresh(ctx, o, cond.UniqueID)
		}
	})
}

// Delete removes a Conditional with its Conditions, Actions and display
// order entry in a single transaction. An active rule is deactivated first.
func (e *Editor) Delete(ctx context.Context, id string) *Outcome {
	return e.run(OpDelete, func(o *Outcome) {
		o.ID = id
		cond := e.conditional(ctx, o, id)
		if cond == nil {
			return
		}

		ok := e.commit(ctx, o, func(tx *gorm.DB) error {
			if cond.IsActivated {
				if err := db.SetConditionalActivated(ctx, tx, id, false); err != nil {
					return err
				}
			}
			if err := tx.Where("conditional_id = ?", id).Delete(&models.ConditionalCondition{}).Error; err != nil {
				return err
			}
			if err := tx.Where("function_id = ?", id).Delete(&models.Action{}).Error; err != nil {
				return err
			}
			if err := tx.Where("unique_id = ?", id).Delete(&models.Conditional{}).Error; err != nil {
				return err
			}
			return db.RemoveFunctionOrder(ctx, tx, id)
		})
		if !ok {
			return
		}

		if cond.IsActivated {
			e.daemonCall(ctx, o, id, DaemonControl.ControllerDeactivate)
		}
		if err := e.code.Remove(id); err != nil {
			e.log.Debug("removing conditional code", zap.String("id", id), zap.Error(err))
		}
	})
}

// AddCondition creates a Condition on an inactive Conditional
func (e *Editor) AddCondition(ctx context.Context, f ConditionForm) *Outcome {
	return e.run(OpAddCondition, func(o *Outcome) {
		cond := e.conditional(ctx, o, f.ConditionalID)
		if cond != nil && cond.IsActivated {
			o.add(invalid("Deactivate the Conditional before adding a Condition"))
		}
		switch {
		case f.ConditionType == "":
			o.add(invalid("Must select a condition"))
		case !KnownConditionType(f.ConditionType):
			o.add(invalid("Unknown condition type: %s", f.ConditionType))
		}
		if o.Failed() {
			return
		}

		row := models.ConditionalCondition{
			UniqueID:      e.newID(),
			ConditionalID: f.ConditionalID,
			ConditionType: f.ConditionType,
		}
		if row.ConditionType == models.ConditionMeasurement {
			row.MaxAge = 360
		}
		if e.commit(ctx, o, func(tx *gorm.DB) error { return tx.Create(&row).Error }) {
			o.ID = row.UniqueID
		}
	})
}

// ModifyCondition updates the fields that belong to the Condition's type
func (e *Editor) ModifyCondition(ctx context.Context, f ConditionForm) *Outcome {
	return e.run(OpModifyCondition, func(o *Outcome) {
		o.ID = f.ConditionID
		cond := e.conditional(ctx, o, f.ConditionalID)
		if cond == nil {
			return
		}
		row, ok := e.condition(ctx, o, cond.UniqueID, f.ConditionID)
		if !ok {
			return
		}

		updated, err := fromForm(row.ConditionType, f)
		if err != nil {
			o.add(err)
			return
		}
		o.add(updated.Validate()...)
		if o.Failed() {
			return
		}

		committed := e.commit(ctx, o, func(tx *gorm.DB) error {
			return tx.Model(&models.ConditionalCondition{}).
				Where("unique_id = ?", row.UniqueID).
				Updates(updated.columns()).Error
		})
		if committed && cond.IsActivated {
			e.refresh(ctx, o, cond.UniqueID)
		}
	})
}

// DeleteCondition removes a Condition from an inactive Conditional
func (e *Editor) DeleteCondition(ctx context.Context, f ConditionForm) *Outcome {
	return e.run(OpDeleteCondition, func(o *Outcome) {
		o.ID = f.ConditionID
		cond := e.conditional(ctx, o, f.ConditionalID)
		if cond == nil {
			return
		}
		if cond.IsActivated {
			o.add(invalid("Deactivate the Conditional before deleting a Condition"))
			return
		}
		row, ok := e.condition(ctx, o, cond.UniqueID, f.ConditionID)
		if !ok {
			return
		}
		e.commit(ctx, o, func(tx *gorm.DB) error {
			return tx.Where("unique_id = ?", row.UniqueID).Delete(&models.ConditionalCondition{}).Error
		})
	})
}

func (e *Editor) condition(ctx context.Context, o *Outcome, conditionalID, id string) (*models.ConditionalCondition, bool) {
	row, err := db.GetCondition(ctx, e.orm, id)
	switch {
	case errors.Is(err, db.ErrNotFound) || (err == nil && row.ConditionalID != conditionalID):
		o.add(invalid("Condition not found: %s", id))
		return nil, false
	case err != nil:
		o.add(&PersistenceError{Err: err})
		return nil, false
	}
	return row, true
}

// Activate validates every Condition and Action of a Conditional, writes its
// statement artifact and switches it on. Any error leaves it inactive.
func (e *Editor) Activate(ctx context.Context, id string) *Outcome {
	return e.run(OpActivate, func(o *Outcome) {
		o.ID = id
		cond := e.conditional(ctx, o, id)
		if cond == nil {
			return
		}

		conditions, err := db.GetConditionalConditions(ctx, e.orm, id)
		if err != nil {
			o.add(&PersistenceError{Err: err})
			return
		}
		for _, row := range conditions {
			c, err := FromModel(row)
			if err != nil {
				o.add(err)
				continue
			}
			o.add(c.Validate()...)
		}
		if len(conditions) == 0 {
			o.add(invalid("No Conditions found: Add at least one Condition before activating."))
		}

		actions, err := db.GetActions(ctx, e.orm, id)
		if err != nil {
			o.add(&PersistenceError{Err: err})
			return
		}
		if len(actions) == 0 {
			o.add(invalid("No Actions found: Add at least one Action before activating."))
		}
		for _, a := range actions {
			o.add(CheckAction(a)...)
		}
		if o.Failed() {
			return
		}

		if err := e.code.Save(id, cond.ConditionalStatement); err != nil {
			o.add(err)
			return
		}
		if !e.commit(ctx, o, func(tx *gorm.DB) error {
			return db.SetConditionalActivated(ctx, tx, id, true)
		}) {
			return
		}
		e.daemonCall(ctx, o, id, DaemonControl.ControllerActivate)
	})
}

// Deactivate switches a Conditional off. There are no preconditions.
func (e *Editor) Deactivate(ctx context.Context, id string) *Outcome {
	return e.run(OpDeactivate, func(o *Outcome) {
		o.ID = id
		ok := e.commit(ctx, o, func(tx *gorm.DB) error {
			err := db.SetConditionalActivated(ctx, tx, id, false)
			if errors.Is(err, db.ErrNotFound) {
				return invalid("Conditional not found: %s", id)
			}
			return err
		})
		if ok {
			e.daemonCall(ctx, o, id, DaemonControl.ControllerDeactivate)
		}
	})
}

// AddAction creates an Action on an inactive Conditional
func (e *Editor) AddAction(ctx context.Context, f ActionForm) *Outcome {
	return e.run(OpAddAction, func(o *Outcome) {
		cond := e.conditional(ctx, o, f.FunctionID)
		if cond != nil && cond.IsActivated {
			o.add(invalid("Deactivate the Conditional before adding an Action"))
		}
		switch {
		case f.ActionType == "":
			o.add(invalid("Must select an action"))
		case !KnownActionType(f.ActionType):
			o.add(invalid("Unknown action type: %s", f.ActionType))
		}
		if o.Failed() {
			return
		}

		row := actionFromForm(f)
		row.UniqueID = e.newID()
		if row.ActionType == models.ActionOutput && row.DoOutputState == "" {
			row.DoOutputState = "on"
		}
		if e.commit(ctx, o, func(tx *gorm.DB) error { return tx.Create(&row).Error }) {
			o.ID = row.UniqueID
		}
	})
}

// ModifyAction updates the settings of an Action. Its type is fixed.
func (e *Editor) ModifyAction(ctx context.Context, f ActionForm) *Outcome {
	return e.run(OpModifyAction, func(o *Outcome) {
		o.ID = f.ActionID
		cond := e.conditional(ctx, o, f.FunctionID)
		if cond == nil {
			return
		}
		existing, ok := e.action(ctx, o, cond.UniqueID, f.ActionID)
		if !ok {
			return
		}

		updated := actionFromForm(f)
		updated.UniqueID = existing.UniqueID
		updated.ActionType = existing.ActionType
		o.add(CheckAction(updated)...)
		if o.Failed() {
			return
		}

		committed := e.commit(ctx, o, func(tx *gorm.DB) error {
			return tx.Model(&models.Action{}).
				Where("unique_id = ?", existing.UniqueID).
				Updates(map[string]interface{}{
					"do_unique_id":       updated.DoUniqueID,
					"do_output_state":    updated.DoOutputState,
					"do_output_duration": updated.DoOutputDuration,
					"do_action_string":   updated.DoActionString,
					"do_payload":         updated.DoPayload,
				}).Error
		})
		if committed && cond.IsActivated {
			e.refresh(ctx, o, cond.UniqueID)
		}
	})
}

// DeleteAction removes an Action from an inactive Conditional
func (e *Editor) DeleteAction(ctx context.Context, f ActionForm) *Outcome {
	return e.run(OpDeleteAction, func(o *Outcome) {
		o.ID = f.ActionID
		cond := e.conditional(ctx, o, f.FunctionID)
		if cond == nil {
			return
		}
		if cond.IsActivated {
			o.add(invalid("Deactivate the Conditional before deleting an Action"))
			return
		}
		row, ok := e.action(ctx, o, cond.UniqueID, f.ActionID)
		if !ok {
			return
		}
		e.commit(ctx, o, func(tx *gorm.DB) error {
			return tx.Where("unique_id = ?", row.UniqueID).Delete(&models.Action{}).Error
		})
	})
}

func (e *Editor) action(ctx context.Context, o *Outcome, functionID, id string) (*models.Action, bool) {
	row, err := db.GetAction(ctx, e.orm, id)
	switch {
	case errors.Is(err, db.ErrNotFound) || (err == nil && row.FunctionID != functionID):
		o.add(invalid("Action not found: %s", id))
		return nil, false
	case err != nil:
		o.add(&PersistenceError{Err: err})
		return nil, false
	}
	return row, true
}

func actionFromForm(f ActionForm) models.Action {
	return models.Action{
		FunctionID:       f.FunctionID,
		ActionType:       f.ActionType,
		DoUniqueID:       f.DoUniqueID,
		DoOutputState:    f.DoOutputState,
		DoOutputDuration: f.DoOutputDuration,
		DoActionString:   f.DoActionString,
		DoPayload:        f.DoPayload,
	}
}

// List returns every Conditional with its Conditions and Actions, in display
// order. Rules missing from the order come last, by name.
func (e *Editor) List(ctx context.Context) ([]models.Conditional, error) {
	order, err := db.GetFunctionOrder(ctx, e.orm)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}

	var out []models.Conditional
	if err := e.orm.WithContext(ctx).
		Preload("Conditions").
		Preload("Actions").
		Find(&out).Error; err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].UniqueID]
		rj, jok := rank[out[j].UniqueID]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i].Name < out[j].Name
		}
	})
	return out, nil
}
