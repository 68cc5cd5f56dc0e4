package models

import "time"

// Condition types understood by the rule editor and the daemon
const (
	ConditionMeasurement     = "measurement"
	ConditionMeasurementDict = "measurement_dict"
	ConditionGPIOState       = "gpio_state"
	ConditionOutputState     = "output_state"
)

// Action types
const (
	ActionOutput               = "output"
	ActionMQTTPublish          = "mqtt_publish"
	ActionEmail                = "email"
	ActionActivateController   = "activate_controller"
	ActionDeactivateController = "deactivate_controller"
)

// Conditional is a user-defined automation rule evaluated by the daemon
type Conditional struct {
	UniqueID             string    `gorm:"primaryKey;size:36" json:"unique_id"`
	Name                 string    `gorm:"size:255;not null" json:"name"`
	ConditionalStatement string    `gorm:"type:text" json:"conditional_statement"`
	Period               float64   `gorm:"not null" json:"period"`
	LogLevelDebug        bool      `gorm:"not null;default:false" json:"log_level_debug"`
	StartOffset          float64   `gorm:"not null" json:"start_offset"`
	RefractoryPeriod     float64   `gorm:"not null;default:0" json:"refractory_period"`
	IsActivated          bool      `gorm:"not null;default:false;index" json:"is_activated"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`

	Conditions []ConditionalCondition `gorm:"foreignKey:ConditionalID" json:"conditions"`
	Actions    []Action               `gorm:"foreignKey:FunctionID" json:"actions"`
}

// ConditionalCondition is one trigger clause owned by a Conditional.
// Which of Measurement/MaxAge, GPIOPin or OutputID is meaningful depends on
// ConditionType.
type ConditionalCondition struct {
	UniqueID      string `gorm:"primaryKey;size:36" json:"unique_id"`
	ConditionalID string `gorm:"size:36;not null;index" json:"conditional_id"`
	ConditionType string `gorm:"size:50;not null" json:"condition_type"`
	Measurement   string `gorm:"size:100;default:''" json:"measurement"`
	MaxAge        int    `gorm:"not null;default:0" json:"max_age"`
	GPIOPin       int    `gorm:"not null;default:0" json:"gpio_pin"`
	OutputID      string `gorm:"size:36;default:''" json:"output_id"`
}

// Action is one effect owned by a Conditional (FunctionID).
// DoActionString holds the MQTT topic or the email address; DoPayload the
// message sent to it.
type Action struct {
	UniqueID         string  `gorm:"primaryKey;size:36" json:"unique_id"`
	FunctionID       string  `gorm:"size:36;not null;index" json:"function_id"`
	ActionType       string  `gorm:"size:50;not null" json:"action_type"`
	DoUniqueID       string  `gorm:"size:36;default:''" json:"do_unique_id"`
	DoOutputState    string  `gorm:"size:10;default:''" json:"do_output_state"`
	DoOutputDuration float64 `gorm:"not null;default:0" json:"do_output_duration"`
	DoActionString   string  `gorm:"type:text;default:''" json:"do_action_string"`
	DoPayload        string  `gorm:"type:text;default:''" json:"do_payload"`
}

// DisplayOrder keeps the UI order of functions as a comma separated id list.
// There is a single row.
type DisplayOrder struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Function string `gorm:"type:text;default:''" json:"function"`
}

// User is an account allowed to edit rules
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:100;uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Email     string    `gorm:"size:255" json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// All returns every persisted model, in migration order
func All() []interface{} {
	return []interface{}{
		&User{},
		&Conditional{},
		&ConditionalCondition{},
		&Action{},
		&DisplayOrder{},
	}
}
