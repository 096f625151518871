// Package dates holds calendar-day filtering over raw records and
// canonical events, plus lenient date parsing shared by the source
// transformers.
package dates

import (
	"errors"
	"strings"
	"time"

	appLog "github.com/Devinfern/sanghos-sub004/internal/log"
	"github.com/Devinfern/sanghos-sub004/internal/model"
)

// flexibleLayouts are the accepted wire forms, most specific first.
var flexibleLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseFlexible parses a calendar date or ISO timestamp. Zone-less forms
// are interpreted in loc (time.Local when loc is nil).
func ParseFlexible(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date value")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range flexibleLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unparseable date value: " + s)
}

// OnOrAfterDay reports whether t falls on the same calendar day as now or
// later, comparing in now's location. A timestamp earlier today still
// counts as on the reference day.
func OnOrAfterDay(t, now time.Time) bool {
	loc := now.Location()
	t = t.In(loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return !day.Before(today)
}

// FilterPastRetreats returns the subset of records whose date falls on the
// reference day or later. Records with malformed dates are excluded and
// logged. The input is never mutated; an empty input yields an empty,
// non-nil output.
func FilterPastRetreats[R interface{ RawDate() string }](recs []R, now time.Time) []R {
	out := make([]R, 0, len(recs))
	for _, rec := range recs {
		t, err := ParseFlexible(rec.RawDate(), now.Location())
		if err != nil {
			appLog.Warn("dropping record with unparseable date", "date", rec.RawDate())
			continue
		}
		if OnOrAfterDay(t, now) {
			out = append(out, rec)
		}
	}
	return out
}

// FilterPastEvents returns the subset of events whose start falls on the
// reference day or later. Events with a zero start are treated as past and
// logged, mirroring FilterPastRetreats.
func FilterPastEvents(events []model.Event, now time.Time) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.Start.IsZero() {
			appLog.Warn("dropping event without a start date", "id", ev.ID)
			continue
		}
		if OnOrAfterDay(ev.Start, now) {
			out = append(out, ev)
		}
	}
	return out
}
