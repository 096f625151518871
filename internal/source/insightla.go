package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Devinfern/sanghos-sub004/internal/dates"
	appLog "github.com/Devinfern/sanghos-sub004/internal/log"
	"github.com/Devinfern/sanghos-sub004/internal/model"
)

// InsightLAEvent is the partner catalog's native record shape: free-text
// location, string-typed price, ISO timestamps, no promotion flag.
type InsightLAEvent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	EventType   string `json:"event_type"`
	Date        string `json:"date"`
	EndDate     string `json:"end_date"`
	Location    string `json:"location"`
	Price       string `json:"price"`
	URL         string `json:"url"`
	ImageURL    string `json:"image_url"`
	Teacher     string `json:"teacher"`
}

func (r InsightLAEvent) RawID() string            { return r.ID }
func (r InsightLAEvent) RawDate() string          { return r.Date }
func (r InsightLAEvent) Provenance() model.Source { return model.SourceInsightLA }

// IsFeatured is always false: InsightLA has no promotion concept, so the
// aggregator's featured rule falls through to the canonical flag alone.
func (r InsightLAEvent) IsFeatured() bool { return false }

// Normalize maps an InsightLA record into the canonical shape.
//
// Defaults: an absent or non-numeric price means free admission (the
// center runs on donations), the free-text location becomes the venue
// name, and a location reading "online" marks the event online.
func (r InsightLAEvent) Normalize() model.Event {
	start, err := dates.ParseFlexible(r.Date, time.Local)
	if err != nil {
		start = time.Time{}
	}
	end := start
	if r.EndDate != "" {
		if t, perr := dates.ParseFlexible(r.EndDate, time.Local); perr == nil {
			end = t
		}
	}
	if end.Before(start) {
		end = start
	}

	online := strings.EqualFold(strings.TrimSpace(r.Location), "online")
	category := model.NormalizeCategory(strings.ToLower(r.EventType))
	if online {
		category = model.CategoryOnline
	}

	loc := model.EventLocation{Online: online}
	if !online {
		loc.Venue = model.Venue{Name: strings.TrimSpace(r.Location)}
	}

	return model.Event{
		ID:               r.ID,
		Source:           model.SourceInsightLA,
		Title:            r.Title,
		ShortDescription: r.Description,
		Description:      r.Description,
		ImageURL:         r.ImageURL,
		Category:         category,
		Start:            start,
		End:              end,
		Location:         loc,
		BookingURL:       r.URL,
		Price:            parseInsightLAPrice(r.Price),
		Organizer: model.Organizer{
			Name:    organizerOrDefault(r.Teacher),
			Website: "https://insightla.org",
		},
	}
}

func organizerOrDefault(teacher string) string {
	if teacher != "" {
		return teacher
	}
	return "InsightLA"
}

// parseInsightLAPrice reads prices like "$25", "25.00" or "Donation".
// Anything without a parseable amount is the free sentinel.
func parseInsightLAPrice(s string) model.Price {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return model.FreePrice()
	}
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return model.FreePrice()
	}
	return model.KnownPrice(amount)
}

// InsightLAFetcher retrieves the partner catalog.
type InsightLAFetcher struct {
	id     string
	url    string
	client *Client
}

// NewInsightLAFetcher builds the partner catalog fetcher.
func NewInsightLAFetcher(id, url string, client *Client) *InsightLAFetcher {
	if id == "" {
		id = string(model.SourceInsightLA)
	}
	return &InsightLAFetcher{id: id, url: url, client: client}
}

func (f *InsightLAFetcher) ID() string           { return f.id }
func (f *InsightLAFetcher) Source() model.Source { return model.SourceInsightLA }

// Fetch retrieves and decodes the partner feed. The endpoint returns
// either a bare array or an {"events": [...]} wrapper.
func (f *InsightLAFetcher) Fetch(ctx context.Context) ([]RawRecord, error) {
	body, fromCache, err := f.client.fetchBody(ctx, f.id, f.url)
	if err != nil {
		return nil, fmt.Errorf("insightla fetch: %w", err)
	}

	var events []InsightLAEvent
	if err := json.Unmarshal(body, &events); err != nil {
		var wrapper struct {
			Events []InsightLAEvent `json:"events"`
		}
		if werr := json.Unmarshal(body, &wrapper); werr != nil {
			return nil, fmt.Errorf("insightla decode: %w", err)
		}
		events = wrapper.Events
	}

	out := make([]RawRecord, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = newID()
		}
		out = append(out, ev)
	}

	appLog.Info("insightla fetch completed", "count", len(out), "from_cache", fromCache)
	return out, nil
}
