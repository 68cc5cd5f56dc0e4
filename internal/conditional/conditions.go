package conditional

import "greenhouse/internal/models"

// Condition is the typed view of a ConditionalCondition row. Each variant
// carries only the fields its type uses.
type Condition interface {
	Type() string
	Validate() []error
	// columns returns the row fields owned by the variant
	columns() map[string]interface{}
}

// MeasurementCondition reads the latest value of a measurement. Dict selects
// the measurement_dict form, which returns the raw history instead.
type MeasurementCondition struct {
	Dict        bool
	Measurement string
	// MaxAge is the staleness window in seconds
	MaxAge int
}

func (c MeasurementCondition) Type() string {
	if c.Dict {
		return models.ConditionMeasurementDict
	}
	return models.ConditionMeasurement
}

func (c MeasurementCondition) Validate() []error {
	var errs []error
	if c.Measurement == "" {
		errs = append(errs, invalid("Measurement must be set"))
	}
	if c.MaxAge <= 0 {
		errs = append(errs, invalid("Max Age must be greater than 0"))
	}
	return errs
}

func (c MeasurementCondition) columns() map[string]interface{} {
	return map[string]interface{}{"measurement": c.Measurement, "max_age": c.MaxAge}
}

// GPIOStateCondition reads the level of a GPIO pin
type GPIOStateCondition struct {
	Pin int
}

func (GPIOStateCondition) Type() string { return models.ConditionGPIOState }

func (c GPIOStateCondition) Validate() []error {
	if c.Pin < 0 {
		return []error{invalid("GPIO Pin must be 0 or greater")}
	}
	return nil
}

func (c GPIOStateCondition) columns() map[string]interface{} {
	return map[string]interface{}{"gpio_pin": c.Pin}
}

// OutputStateCondition reads the last commanded state of an output
type OutputStateCondition struct {
	OutputID string
}

func (OutputStateCondition) Type() string { return models.ConditionOutputState }

func (c OutputStateCondition) Validate() []error {
	if c.OutputID == "" {
		return []error{invalid("Output must be set")}
	}
	return nil
}

func (c OutputStateCondition) columns() map[string]interface{} {
	return map[string]interface{}{"output_id": c.OutputID}
}

// KnownConditionType reports whether t names a supported variant
func KnownConditionType(t string) bool {
	switch t {
	case models.ConditionMeasurement, models.ConditionMeasurementDict,
		models.ConditionGPIOState, models.ConditionOutputState:
		return true
	}
	return false
}

// FromModel decodes a stored row
func FromModel(row models.ConditionalCondition) (Condition, error) {
	return build(row.ConditionType, row.Measurement, row.MaxAge, row.GPIOPin, row.OutputID)
}

// fromForm builds the variant of the given (existing) type from submitted
// fields, ignoring fields the type does not use.
func fromForm(conditionType string, f ConditionForm) (Condition, error) {
	return build(conditionType, f.Measurement, f.MaxAge, f.GPIOPin, f.OutputID)
}

func build(conditionType, measurement string, maxAge, pin int, outputID string) (Condition, error) {
	switch conditionType {
	case models.ConditionMeasurement, models.ConditionMeasurementDict:
		return MeasurementCondition{
			Dict:        conditionType == models.ConditionMeasurementDict,
			Measurement: measurement,
			MaxAge:      maxAge,
		}, nil
	case models.ConditionGPIOState:
		return GPIOStateCondition{Pin: pin}, nil
	case models.ConditionOutputState:
		return OutputStateCondition{OutputID: outputID}, nil
	default:
		return nil, invalid("Unknown condition type: %s", conditionType)
	}
}
