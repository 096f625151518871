package source

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "github.com/Devinfern/sanghos-sub004/internal/log"
	"github.com/Devinfern/sanghos-sub004/internal/model"
)

// maxOccurrencesPerEvent caps RRULE expansion for a single VEVENT.
const maxOccurrencesPerEvent = 500

// PartnerOccurrence is one dated instance of a partner-studio calendar
// event, after recurrence expansion. It participates in aggregation like
// any other raw record.
type PartnerOccurrence struct {
	UID         string
	FeedID      string
	Summary     string
	Description string
	Location    string
	URL         string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

func (o PartnerOccurrence) RawID() string            { return o.UID }
func (o PartnerOccurrence) RawDate() string          { return o.Start.Format(time.RFC3339) }
func (o PartnerOccurrence) Provenance() model.Source { return model.SourcePartner }

// IsFeatured is always false: ICS has no promotion concept.
func (o PartnerOccurrence) IsFeatured() bool { return false }

// Normalize maps an occurrence into the canonical shape. The category is
// guessed from the summary text; partner feeds carry no explicit one.
func (o PartnerOccurrence) Normalize() model.Event {
	online := o.Location == "" ||
		strings.Contains(strings.ToLower(o.Location), "online") ||
		strings.Contains(strings.ToLower(o.Location), "zoom")

	category := guessCategory(o.Summary)
	if online {
		category = model.CategoryOnline
	}

	loc := model.EventLocation{Online: online}
	if !online {
		loc.Venue = model.Venue{Name: o.Location}
	}

	end := o.End
	if end.Before(o.Start) {
		end = o.Start
	}

	return model.Event{
		ID:               o.UID,
		Source:           model.SourcePartner,
		Title:            o.Summary,
		ShortDescription: o.Description,
		Description:      o.Description,
		Category:         category,
		Start:            o.Start,
		End:              end,
		Location:         loc,
		BookingURL:       o.URL,
		// ICS feeds carry no pricing; leave the price unspecified.
		Organizer: model.Organizer{Name: o.FeedID},
	}
}

func guessCategory(summary string) model.Category {
	s := strings.ToLower(summary)
	switch {
	case strings.Contains(s, "yoga"):
		return model.CategoryYoga
	case strings.Contains(s, "meditat"), strings.Contains(s, "mindful"), strings.Contains(s, "sit"):
		return model.CategoryMeditation
	case strings.Contains(s, "fitness"), strings.Contains(s, "movement"):
		return model.CategoryFitness
	case strings.Contains(s, "nutrition"), strings.Contains(s, "cook"):
		return model.CategoryNutrition
	case strings.Contains(s, "workshop"):
		return model.CategoryWorkshop
	}
	return model.DefaultCategory
}

// PartnerICSFetcher retrieves a partner studio's ICS feed and expands it
// into dated occurrences within the configured horizon.
type PartnerICSFetcher struct {
	id      string
	url     string
	client  *Client
	horizon time.Duration
	now     func() time.Time
}

// NewPartnerICSFetcher builds an ICS feed fetcher. horizonDays bounds how
// far ahead recurring events are expanded. now may be nil for real time.
func NewPartnerICSFetcher(id, url string, client *Client, horizonDays int, now func() time.Time) *PartnerICSFetcher {
	if horizonDays <= 0 {
		horizonDays = 90
	}
	if now == nil {
		now = time.Now
	}
	return &PartnerICSFetcher{
		id:      id,
		url:     url,
		client:  client,
		horizon: time.Duration(horizonDays) * 24 * time.Hour,
		now:     now,
	}
}

func (f *PartnerICSFetcher) ID() string           { return f.id }
func (f *PartnerICSFetcher) Source() model.Source { return model.SourcePartner }

// Fetch retrieves the feed, parses its VEVENTs and expands recurrences
// into occurrences between now and the horizon. Individual events that
// fail to parse are logged and skipped.
func (f *PartnerICSFetcher) Fetch(ctx context.Context) ([]RawRecord, error) {
	body, fromCache, err := f.client.fetchBody(ctx, f.id, f.url)
	if err != nil {
		return nil, fmt.Errorf("partner ics fetch: %w", err)
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("partner ics parse: %w", err)
	}

	// The window opens at the start of the current calendar day so an
	// occurrence earlier today still comes through, matching the day-level
	// cut the temporal filter applies downstream.
	now := f.now()
	rangeStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	rangeEnd := now.Add(f.horizon)

	out := make([]RawRecord, 0)
	for _, ve := range cal.Events() {
		occs, perr := f.expandVEvent(ve, rangeStart, rangeEnd)
		if perr != nil {
			appLog.Warn("partner ics event skipped", "feed", f.id, "reason", perr.Error())
			continue
		}
		for _, occ := range occs {
			out = append(out, occ)
		}
	}

	appLog.Info("partner ics fetch completed", "feed", f.id, "count", len(out), "from_cache", fromCache)
	return out, nil
}

func (f *PartnerICSFetcher) expandVEvent(ve *ical.VEvent, rangeStart, rangeEnd time.Time) ([]PartnerOccurrence, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	uid := ""
	if uidProp != nil {
		uid = uidProp.Value
	}
	if uid == "" {
		uid = newID()
	}

	base := PartnerOccurrence{
		UID:    uid,
		FeedID: f.id,
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		base.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		base.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		base.Location = p.Value
	}
	if p := ve.GetProperty("URL"); p != nil {
		base.URL = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("uid %s: missing DTSTART", uid)
	}
	end, err := ve.GetEndAt()
	if err != nil || end.Before(start) {
		end = start
	}

	// All-day when DTSTART carries VALUE=DATE or a date-only value.
	if dtStart := ve.GetProperty(ical.ComponentPropertyDtStart); dtStart != nil {
		if params := dtStart.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				base.AllDay = true
			}
		}
		if !strings.Contains(dtStart.Value, "T") {
			base.AllDay = true
		}
	}

	rawRRule := ""
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rawRRule = p.Value
	}

	// Single event: keep it if it overlaps the window.
	if rawRRule == "" {
		if end.Before(rangeStart) || start.After(rangeEnd) {
			return nil, nil
		}
		occ := base
		occ.Start = start
		occ.End = end
		return []PartnerOccurrence{occ}, nil
	}

	r, err := rrule.StrToRRule(rawRRule)
	if err != nil {
		return nil, fmt.Errorf("uid %s: bad RRULE: %v", uid, err)
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exDates(ve) {
		set.ExDate(ex.In(start.Location()))
	}

	occTimes := set.Between(rangeStart.In(start.Location()), rangeEnd.In(start.Location()), true)
	if len(occTimes) > maxOccurrencesPerEvent {
		appLog.Warn("partner ics recurrence truncated", "feed", f.id, "uid", uid, "cap", maxOccurrencesPerEvent)
		occTimes = occTimes[:maxOccurrencesPerEvent]
	}

	duration := end.Sub(start)
	out := make([]PartnerOccurrence, 0, len(occTimes))
	for i, occStart := range occTimes {
		occ := base
		if occ.AllDay {
			day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occ.Start = day
			occ.End = day.Add(24 * time.Hour)
		} else {
			occ.Start = occStart
			occ.End = occStart.Add(duration)
		}
		// Recurring instances need distinct identities.
		occ.UID = fmt.Sprintf("%s/%d", uid, i)
		out = append(out, occ)
	}
	return out, nil
}

// exDates collects EXDATE values in the basic DATE / DATE-TIME / UTC forms.
func exDates(ve *ical.VEvent) []time.Time {
	var out []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

func parseICSTime(v string) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.Local)
	default:
		return time.ParseInLocation("20060102", v, time.Local)
	}
}
