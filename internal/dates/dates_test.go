package dates_test

import (
	"testing"
	"time"

	"pactline/internal/dates"
)

func TestNextPrev(t *testing.T) {
	next, err := dates.Next("2026-02-28")
	if err != nil || next != "2026-03-01" {
		t.Fatalf("next: %s %v", next, err)
	}
	prev, err := dates.Prev("2026-01-01")
	if err != nil || prev != "2025-12-31" {
		t.Fatalf("prev: %s %v", prev, err)
	}
	if _, err := dates.Next("garbage"); err == nil {
		t.Fatalf("expected error for bad label")
	}
}

func TestInZoneSkew(t *testing.T) {
	// The same instant falls on different calendar dates in Tokyo and LA.
	now := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	tokyo, _ := time.LoadLocation("Asia/Tokyo")
	la, _ := time.LoadLocation("America/Los_Angeles")
	if got := dates.InZone(now, tokyo); got != "2026-03-10" {
		t.Fatalf("tokyo: %s", got)
	}
	if got := dates.InZone(now, la); got != "2026-03-09" {
		t.Fatalf("la: %s", got)
	}
}

func TestEndOfDay(t *testing.T) {
	tokyo, _ := time.LoadLocation("Asia/Tokyo")
	end, err := dates.EndOfDay("2026-03-10", tokyo)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 11, 0, 0, 0, 0, tokyo)
	if !end.Equal(want) {
		t.Fatalf("end of day: %v want %v", end, want)
	}
}

func TestMin(t *testing.T) {
	if got := dates.Min("2026-03-09", "2026-03-10"); got != "2026-03-09" {
		t.Fatalf("min: %s", got)
	}
	if got := dates.Min("2026-03-10", "2026-03-10"); got != "2026-03-10" {
		t.Fatalf("min equal: %s", got)
	}
}

func TestZone(t *testing.T) {
	loc, err := dates.Zone("")
	if err != nil || loc != time.UTC {
		t.Fatalf("empty zone should be UTC: %v %v", loc, err)
	}
	if _, err := dates.Zone("Europe/Paris"); err != nil {
		t.Fatalf("paris: %v", err)
	}
	if _, err := dates.Zone("Not/AZone"); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}
