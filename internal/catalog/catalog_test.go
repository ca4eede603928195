package catalog_test

import (
	"errors"
	"testing"

	"pactline/internal/catalog"
)

func TestParse(t *testing.T) {
	for in, want := range map[string]string{
		"daily_tasks":   catalog.DailyTasks,
		" Focus-Time ":  catalog.FocusTime,
		"GOAL_PROGRESS": catalog.GoalProgress,
		"custom":        catalog.Custom,
	} {
		got, err := catalog.Parse(in)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %q err %v", in, got, err)
		}
	}
	if _, err := catalog.Parse("weekly_tasks"); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestValidate(t *testing.T) {
	if err := catalog.Validate(catalog.DailyTasks, 3, ""); err != nil {
		t.Fatalf("daily tasks: %v", err)
	}
	if err := catalog.Validate(catalog.DailyTasks, 0, ""); err == nil {
		t.Fatalf("expected positive target error")
	}
	if err := catalog.Validate(catalog.GoalProgress, 150, ""); err == nil {
		t.Fatalf("expected percentage cap error")
	}
	if err := catalog.Validate(catalog.Custom, 1, ""); err == nil {
		t.Fatalf("expected description requirement for custom")
	}
	if err := catalog.Validate(catalog.Custom, 1, "meditate"); err != nil {
		t.Fatalf("custom with description: %v", err)
	}
	var ve catalog.ValidationError
	err := catalog.Validate(catalog.GoalProgress, 101, "")
	if !errors.As(err, &ve) || ve.Field != "target" {
		t.Fatalf("expected target validation error, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	if catalog.DefaultTarget(catalog.FocusTime) != 25 {
		t.Fatalf("focus time default")
	}
	if catalog.UnitLabel(catalog.FocusTime) != "minutes" {
		t.Fatalf("focus time unit")
	}
	if len(catalog.Types()) != 4 {
		t.Fatalf("expected 4 commitment types")
	}
}
