// Package catalog defines the commitment types a pact can be made over
// and validates their targets. Pure data, no side effects.
package catalog

import (
	"fmt"
	"strings"
)

// Commitment types.
const (
	DailyTasks   = "daily_tasks"
	FocusTime    = "focus_time"
	GoalProgress = "goal_progress"
	Custom       = "custom"
)

// ValidationError rejects a commitment definition before anything is
// persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid commitment %s: %s", e.Field, e.Message)
}

// Types lists every commitment type in display order.
func Types() []string {
	return []string{DailyTasks, FocusTime, GoalProgress, Custom}
}

// Known reports whether t is a catalog commitment type.
func Known(t string) bool {
	switch t {
	case DailyTasks, FocusTime, GoalProgress, Custom:
		return true
	}
	return false
}

// Parse normalizes user input into a commitment type.
func Parse(s string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	t = strings.ReplaceAll(t, "-", "_")
	if !Known(t) {
		return "", ValidationError{Field: "type", Message: fmt.Sprintf("unknown commitment type %q", s)}
	}
	return t, nil
}

// DefaultTarget returns the target pre-filled for a commitment type.
func DefaultTarget(t string) int {
	switch t {
	case DailyTasks:
		return 3
	case FocusTime:
		return 25
	case GoalProgress:
		return 100
	case Custom:
		return 1
	}
	return 0
}

// UnitLabel names the unit a target is counted in.
func UnitLabel(t string) string {
	switch t {
	case DailyTasks:
		return "tasks"
	case FocusTime:
		return "minutes"
	case GoalProgress:
		return "percent"
	case Custom:
		return "confirmations"
	}
	return ""
}

// Validate checks a target against its commitment type. Custom
// commitments additionally require a description since their target has
// no machine-checkable meaning.
func Validate(t string, target int, customDescription string) error {
	if !Known(t) {
		return ValidationError{Field: "type", Message: fmt.Sprintf("unknown commitment type %q", t)}
	}
	if target <= 0 {
		return ValidationError{Field: "target", Message: "target must be positive"}
	}
	switch t {
	case GoalProgress:
		if target > 100 {
			return ValidationError{Field: "target", Message: "goal progress is a percentage, max 100"}
		}
	case Custom:
		if strings.TrimSpace(customDescription) == "" {
			return ValidationError{Field: "description", Message: "custom commitment requires a description"}
		}
	}
	return nil
}
