package speech

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateTimeResult is the natural-datetime grammar's token type. Either
// half may be empty if the caller's utterance only supplied one half;
// NeedsMore on the returned Parsed signals the call flow to re-prompt
// for the missing half rather than treating the turn as a failure.
type DateTimeResult struct {
	Date string // YYYY-MM-DD, empty if not yet resolved
	Time string // HH:MM 24h, empty if not yet resolved
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

var monthNames = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

// timeOfDayBuckets give a hands-free caller a coarse clock-time answer
// when they say "morning"/"afternoon"/"evening" instead of a number.
var timeOfDayBuckets = map[string]string{
	"morning":   "09:00",
	"afternoon": "14:00",
	"evening":   "18:00",
	"noon":      "12:00",
	"midday":    "12:00",
	"midnight":  "00:00",
}

var clockPattern = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
var monthDayPattern = regexp.MustCompile(`\b(` + monthAlt() + `)\s+(\d{1,2})(?:st|nd|rd|th)?\b`)

func monthAlt() string {
	var names []string
	for name := range monthNames {
		names = append(names, name)
	}
	return strings.Join(names, "|")
}

// ParseNaturalDateTime resolves a spoken date/time phrase relative to
// now (already in the provider's local timezone, loc). It accepts
// partial answers: if only a date or only a time is recognised, it
// returns NeedsMore=true with the half it did find populated.
//
// Resolution rules:
//   - "today" / "tomorrow" resolve directly off now.
//   - "next <weekday>" always means the occurrence of that weekday in
//     the week AFTER the current one, even if today is that weekday.
//   - a bare weekday ("Thursday") means its soonest occurrence
//     including today — if today is Thursday, that resolves to
//     today's date. Whether today's date is still usable (i.e. the
//     paired time hasn't already passed) is not this function's
//     concern: ValidateSchedulable is the gate that rejects a result
//     that has slipped into the past by the time both halves are
//     known.
//   - "<month> <day>" resolves to the next future date with that
//     month/day, rolling into next year if the date has already
//     passed this year.
//   - a bare time-of-day word or clock time with no date component
//     only resolves the time half.
func ParseNaturalDateTime(text string, now time.Time, loc *time.Location) (Parsed, error) {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return Parsed{NeedsMore: true}, ErrUnparsable
	}
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	var result DateTimeResult
	var foundDate, foundTime bool

	switch {
	case strings.Contains(norm, "today"):
		result.Date = now.Format("2006-01-02")
		foundDate = true
	case strings.Contains(norm, "tomorrow"):
		result.Date = now.AddDate(0, 0, 1).Format("2006-01-02")
		foundDate = true
	default:
		if d, ok := tryMonthDay(norm, now, loc); ok {
			result.Date = d
			foundDate = true
		} else if d, ok := tryWeekday(norm, now); ok {
			result.Date = d
			foundDate = true
		}
	}

	if t, ok := tryClockTime(norm); ok {
		result.Time = t
		foundTime = true
	} else if t, ok := tryTimeOfDayBucket(norm); ok {
		result.Time = t
		foundTime = true
	}

	if !foundDate && !foundTime {
		return Parsed{NeedsMore: true}, ErrUnparsable
	}

	confidence := 0.9
	if !foundDate || !foundTime {
		confidence = ConfirmFloor
	}

	return Parsed{Token: result, Confidence: confidence, NeedsMore: !foundDate || !foundTime}, nil
}

// tryWeekday implements the "next <weekday>" vs bare "<weekday>"
// distinction. A bare weekday resolves to its soonest occurrence
// including today; "next X" always adds a further week on top of
// that, even when X is today.
func tryWeekday(norm string, now time.Time) (string, bool) {
	isNext := strings.Contains(norm, "next ")

	for name, wd := range weekdayNames {
		if !strings.Contains(norm, name) {
			continue
		}

		daysAhead := (int(wd) - int(now.Weekday()) + 7) % 7
		if isNext {
			daysAhead += 7
		}

		return now.AddDate(0, 0, daysAhead).Format("2006-01-02"), true
	}
	return "", false
}

func tryMonthDay(norm string, now time.Time, loc *time.Location) (string, bool) {
	m := monthDayPattern.FindStringSubmatch(norm)
	if m == nil {
		return "", false
	}
	month := monthNames[m[1]]
	day, err := strconv.Atoi(m[2])
	if err != nil || day < 1 || day > 31 {
		return "", false
	}

	year := now.Year()
	candidate := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if candidate.Before(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)) {
		candidate = time.Date(year+1, month, day, 0, 0, 0, 0, loc)
	}
	return candidate.Format("2006-01-02"), true
}

func tryClockTime(norm string) (string, bool) {
	m := clockPattern.FindStringSubmatch(norm)
	if m == nil {
		return "", false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil || hour > 23 {
		return "", false
	}
	minute := 0
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil || minute > 59 {
			return "", false
		}
	}

	switch strings.ToLower(m[3]) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	default:
		// No am/pm marker: treat hours 1-7 as afternoon for an
		// after-hours shift-coverage line, where callers almost
		// never mean 1am-7am.
		if hour >= 1 && hour <= 7 {
			hour += 12
		}
	}

	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

func tryTimeOfDayBucket(norm string) (string, bool) {
	// Longer words are tried first so "afternoon" is not taken for the
	// "noon" it contains.
	for _, word := range []string{"afternoon", "midnight", "morning", "evening", "midday", "noon"} {
		if clock, ok := timeOfDayBuckets[word]; ok && strings.Contains(norm, word) {
			return clock, true
		}
	}
	return "", false
}

// Business-hours policy applied to a fully-resolved reschedule target:
// 07:00 <= hour < 18:00 local, Monday through Friday.
const (
	businessHourStart = 7
	businessHourEnd   = 18
)

// IsBusinessHours reports whether t falls within the 07:00-18:00
// Monday-Friday scheduling policy.
func IsBusinessHours(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return t.Hour() >= businessHourStart && t.Hour() < businessHourEnd
}

// ValidateSchedulable combines a resolved date (YYYY-MM-DD) and clock
// time (HH:MM) into a single instant in loc and checks it against the
// two distinct severities spec.md names for CollectDateTime/Reschedule:
// a past instant is rejected outright (ErrPastDateTime); an instant
// that has not yet passed but falls outside business hours is
// returned (businessHours=false) rather than rejected, so the caller
// can ask for a different time without discarding the whole turn.
func ValidateSchedulable(date, clock string, now time.Time, loc *time.Location) (businessHours bool, err error) {
	if loc == nil {
		loc = time.UTC
	}
	candidate, perr := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if perr != nil {
		return false, ErrUnparsable
	}
	if !candidate.After(now.In(loc)) {
		return false, ErrPastDateTime
	}
	return IsBusinessHours(candidate), nil
}
