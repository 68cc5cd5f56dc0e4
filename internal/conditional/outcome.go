package conditional

import "strings"

// Flash categories
const (
	CategorySuccess = "success"
	CategoryError   = "error"
	CategoryInfo    = "info"
)

// Outcome accumulates everything one editor operation wants to tell the user.
// Errors block the operation's effect; Notices are reported either way.
type Outcome struct {
	Action  string
	Errors  []error
	Notices []string
	// ID is set by operations that create a row
	ID string
}

func (o *Outcome) add(errs ...error) {
	for _, err := range errs {
		if err != nil {
			o.Errors = append(o.Errors, err)
		}
	}
}

func (o *Outcome) notice(msg string) {
	o.Notices = append(o.Notices, msg)
}

// Failed reports whether any error was recorded
func (o *Outcome) Failed() bool {
	return len(o.Errors) > 0
}

// Summary renders the single aggregated message for the operation
func (o *Outcome) Summary() (category, message string) {
	if !o.Failed() {
		return CategorySuccess, "Success: " + o.Action
	}
	msgs := make([]string, 0, len(o.Errors))
	for _, err := range o.Errors {
		msgs = append(msgs, err.Error())
	}
	return CategoryError, "Error: " + o.Action + ": " + strings.Join(msgs, ", ")
}

// Has reports whether an error with exactly this message was recorded
func (o *Outcome) Has(msg string) bool {
	for _, err := range o.Errors {
		if err.Error() == msg {
			return true
		}
	}
	return false
}
