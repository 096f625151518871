// Package icsexport renders canonical events as an iCalendar feed so
// aggregated retreats can be subscribed to from any calendar client.
package icsexport

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/Devinfern/sanghos-sub004/internal/model"
)

const productID = "-//Sanghos//Retreat Feed//EN"

// Calendar serializes the given events into an ICS payload. Events with a
// zero start are skipped; everything else is included as-is, the temporal
// filtering having happened upstream.
func Calendar(events []model.Event, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, ev := range events {
		if ev.Start.IsZero() {
			continue
		}

		ve := cal.AddEvent(ev.ID + "@sanghos")
		ve.SetDtStampTime(now.UTC())
		ve.SetStartAt(ev.Start)
		end := ev.End
		if end.Before(ev.Start) {
			end = ev.Start
		}
		ve.SetEndAt(end)
		ve.SetSummary(ev.Title)
		if ev.ShortDescription != "" {
			ve.SetDescription(ev.ShortDescription)
		}
		if loc := displayLocation(ev.Location); loc != "" {
			ve.SetLocation(loc)
		}
		if ev.BookingURL != "" {
			ve.SetProperty("URL", ev.BookingURL)
		}
	}

	return cal.Serialize()
}

func displayLocation(loc model.EventLocation) string {
	if loc.Online {
		return "Online"
	}
	parts := make([]string, 0, 4)
	for _, p := range []string{loc.Venue.Name, loc.Venue.Address, loc.Venue.City, loc.Venue.State} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
