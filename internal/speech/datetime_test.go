package speech

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		t.Fatalf("failed to load timezone: %v", err)
	}
	return loc
}

func TestParseNaturalDateTimeTomorrow(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 20, 0, 0, 0, loc) // a Friday
	parsed, err := ParseNaturalDateTime("tomorrow afternoon", now, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := parsed.Token.(DateTimeResult)
	if result.Date != "2026-08-01" {
		t.Errorf("date = %q, want 2026-08-01", result.Date)
	}
	if result.Time != "14:00" {
		t.Errorf("time = %q, want 14:00", result.Time)
	}
	if parsed.NeedsMore {
		t.Error("expected both halves resolved, NeedsMore should be false")
	}
}

func TestParseNaturalDateTimeBareWeekdayResolvesToday(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, loc) // Friday
	parsed, err := ParseNaturalDateTime("friday at 3pm", now, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := parsed.Token.(DateTimeResult)
	if result.Date != "2026-07-31" {
		t.Errorf("bare weekday matching today should resolve to today, got %q", result.Date)
	}
}

func TestParseNaturalDateTimeNextSameWeekdaySkipsToday(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, loc) // Friday
	parsed, err := ParseNaturalDateTime("next friday at 3pm", now, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := parsed.Token.(DateTimeResult)
	if result.Date != "2026-08-07" {
		t.Errorf("next friday said on a friday should skip to the following week, got %q", result.Date)
	}
}

func TestParseNaturalDateTimeNextWeekdaySkipsExtraWeek(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, loc) // Friday
	bare, _ := ParseNaturalDateTime("monday", now, loc)
	next, _ := ParseNaturalDateTime("next monday", now, loc)

	bareDate := bare.Token.(DateTimeResult).Date
	nextDate := next.Token.(DateTimeResult).Date
	if bareDate != "2026-08-03" {
		t.Errorf("bare monday = %q, want 2026-08-03", bareDate)
	}
	if nextDate != "2026-08-10" {
		t.Errorf("next monday = %q, want 2026-08-10", nextDate)
	}
}

func TestParseNaturalDateTimePartialTimeOnly(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, loc)
	parsed, err := ParseNaturalDateTime("around 2pm", now, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := parsed.Token.(DateTimeResult)
	if result.Date != "" {
		t.Errorf("date should be unresolved, got %q", result.Date)
	}
	if result.Time != "14:00" {
		t.Errorf("time = %q, want 14:00", result.Time)
	}
	if !parsed.NeedsMore {
		t.Error("expected NeedsMore=true for partial input")
	}
}

func TestParseNaturalDateTimeMonthDayRollsToNextYear(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 12, 20, 9, 0, 0, 0, loc)
	parsed, err := ParseNaturalDateTime("january 5", now, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := parsed.Token.(DateTimeResult)
	if result.Date != "2027-01-05" {
		t.Errorf("date = %q, want 2027-01-05", result.Date)
	}
}

func TestParseNaturalDateTimeUnparsable(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, loc)
	if _, err := ParseNaturalDateTime("   ", now, loc); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestValidateSchedulableRejectsPast(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 15, 0, 0, 0, loc) // Friday 3pm
	_, err := ValidateSchedulable("2026-07-31", "09:00", now, loc)
	if err != ErrPastDateTime {
		t.Fatalf("got err=%v, want ErrPastDateTime", err)
	}
}

func TestValidateSchedulableFlagsWeekend(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, loc) // Friday
	businessHours, err := ValidateSchedulable("2026-08-01", "10:00", now, loc) // Saturday
	if err != nil {
		t.Fatalf("weekend result should be returned, not rejected: %v", err)
	}
	if businessHours {
		t.Error("Saturday 10:00 should be flagged outside business hours")
	}
}

func TestValidateSchedulableFlagsOffHours(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, loc) // Friday
	businessHours, err := ValidateSchedulable("2026-08-03", "20:00", now, loc) // Monday evening
	if err != nil {
		t.Fatalf("off-hours result should be returned, not rejected: %v", err)
	}
	if businessHours {
		t.Error("Monday 20:00 should be flagged outside business hours")
	}
}

func TestValidateSchedulableAcceptsFutureBusinessHours(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, loc) // Friday
	businessHours, err := ValidateSchedulable("2026-08-03", "10:00", now, loc) // Monday morning
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !businessHours {
		t.Error("Monday 10:00 should satisfy business hours")
	}
}
