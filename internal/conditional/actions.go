package conditional

import (
	"net/mail"

	"greenhouse/internal/models"
)

// KnownActionType reports whether t is an action the worker can execute
func KnownActionType(t string) bool {
	switch t {
	case models.ActionOutput, models.ActionMQTTPublish, models.ActionEmail,
		models.ActionActivateController, models.ActionDeactivateController:
		return true
	}
	return false
}

// CheckAction validates the saved settings of an Action
func CheckAction(a models.Action) []error {
	var errs []error
	switch a.ActionType {
	case models.ActionOutput:
		if a.DoUniqueID == "" {
			errs = append(errs, invalid("Output must be set"))
		}
		if a.DoOutputState != "on" && a.DoOutputState != "off" {
			errs = append(errs, invalid("Output State must be on or off"))
		}
		if a.DoOutputDuration < 0 {
			errs = append(errs, invalid("Duration must be 0 or greater"))
		}
	case models.ActionMQTTPublish:
		if a.DoActionString == "" {
			errs = append(errs, invalid("Topic must be set"))
		}
	case models.ActionEmail:
		if _, err := mail.ParseAddress(a.DoActionString); err != nil {
			errs = append(errs, invalid("Email address is invalid: %s", a.DoActionString))
		}
	case models.ActionActivateController, models.ActionDeactivateController:
		if a.DoUniqueID == "" {
			errs = append(errs, invalid("Controller must be set"))
		}
	default:
		errs = append(errs, invalid("Unknown action type: %s", a.ActionType))
	}
	return errs
}
