package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Devinfern/sanghos-sub004/internal/dates"
	appLog "github.com/Devinfern/sanghos-sub004/internal/log"
	"github.com/Devinfern/sanghos-sub004/internal/model"
)

// SanghosLocation is the primary catalog's structured venue shape.
type SanghosLocation struct {
	Name    string   `json:"name"`
	Address string   `json:"address"`
	City    string   `json:"city"`
	State   string   `json:"state"`
	Zip     string   `json:"zip"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// SanghosRetreat is the primary catalog's native record shape: structured
// address, numeric price, explicit featured flag and capacity counts.
type SanghosRetreat struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	LongDescription string          `json:"long_description"`
	Image           string          `json:"image"`
	Location        SanghosLocation `json:"location"`
	Date            string          `json:"date"`
	Time            string          `json:"time"`
	EndDate         string          `json:"end_date"`
	Category        string          `json:"category"`
	Price           *float64        `json:"price"`
	BookingURL      string          `json:"booking_url"`
	OrganizerName   string          `json:"organizer_name"`
	OrganizerURL    string          `json:"organizer_url"`
	Capacity        int             `json:"capacity"`
	Remaining       int             `json:"remaining"`
	Featured        bool            `json:"featured"`
	Online          bool            `json:"online"`
}

func (r SanghosRetreat) RawID() string            { return r.ID }
func (r SanghosRetreat) RawDate() string          { return r.Date }
func (r SanghosRetreat) Provenance() model.Source { return model.SourceSanghos }
func (r SanghosRetreat) IsFeatured() bool         { return r.Featured }

// Normalize maps a Sanghos record into the canonical shape.
//
// Defaults: an absent price stays unspecified (Sanghos does not treat a
// missing price as free admission), unrecognized categories coerce to the
// closed-set default, and an end before the start clamps to the start.
func (r SanghosRetreat) Normalize() model.Event {
	start := parseStart(r.Date, r.Time)
	end := start
	if r.EndDate != "" {
		if t, err := dates.ParseFlexible(r.EndDate, start.Location()); err == nil {
			end = t
		}
	}
	if end.Before(start) {
		end = start
	}

	category := model.NormalizeCategory(r.Category)
	if r.Online {
		category = model.CategoryOnline
	}

	loc := model.EventLocation{
		Online: r.Online,
		Venue: model.Venue{
			Name:       r.Location.Name,
			Address:    r.Location.Address,
			City:       r.Location.City,
			State:      r.Location.State,
			PostalCode: r.Location.Zip,
		},
	}
	if r.Location.Lat != nil && r.Location.Lng != nil {
		loc.Coordinates = &model.Coordinates{Lat: *r.Location.Lat, Lng: *r.Location.Lng}
	}

	price := model.Price{}
	if r.Price != nil {
		price = model.KnownPrice(*r.Price)
	}

	return model.Event{
		ID:               r.ID,
		Source:           model.SourceSanghos,
		Title:            r.Title,
		ShortDescription: r.Description,
		Description:      r.LongDescription,
		ImageURL:         r.Image,
		Category:         category,
		Start:            start,
		End:              end,
		Location:         loc,
		BookingURL:       r.BookingURL,
		Price:            price,
		Organizer: model.Organizer{
			Name:    r.OrganizerName,
			Website: r.OrganizerURL,
		},
		Capacity:  r.Capacity,
		Remaining: r.Remaining,
		Featured:  r.Featured,
	}
}

// parseStart combines a calendar date with an optional HH:MM time-of-day.
// Malformed input degrades to the zero time, which the temporal filter
// treats as past.
func parseStart(date, timeOfDay string) time.Time {
	if timeOfDay != "" {
		if t, err := dates.ParseFlexible(date+"T"+timeOfDay+":00", time.Local); err == nil {
			return t
		}
	}
	t, err := dates.ParseFlexible(date, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SanghosFetcher retrieves the primary catalog.
type SanghosFetcher struct {
	id     string
	url    string
	client *Client
}

// NewSanghosFetcher builds the primary catalog fetcher.
func NewSanghosFetcher(id, url string, client *Client) *SanghosFetcher {
	if id == "" {
		id = string(model.SourceSanghos)
	}
	return &SanghosFetcher{id: id, url: url, client: client}
}

func (f *SanghosFetcher) ID() string           { return f.id }
func (f *SanghosFetcher) Source() model.Source { return model.SourceSanghos }

// Fetch retrieves and decodes the catalog. The endpoint returns either a
// bare array or a {"retreats": [...]} wrapper.
func (f *SanghosFetcher) Fetch(ctx context.Context) ([]RawRecord, error) {
	body, fromCache, err := f.client.fetchBody(ctx, f.id, f.url)
	if err != nil {
		return nil, fmt.Errorf("sanghos fetch: %w", err)
	}

	var retreats []SanghosRetreat
	if err := json.Unmarshal(body, &retreats); err != nil {
		var wrapper struct {
			Retreats []SanghosRetreat `json:"retreats"`
		}
		if werr := json.Unmarshal(body, &wrapper); werr != nil {
			return nil, fmt.Errorf("sanghos decode: %w", err)
		}
		retreats = wrapper.Retreats
	}

	out := make([]RawRecord, 0, len(retreats))
	for _, r := range retreats {
		if r.ID == "" {
			r.ID = newID()
		}
		out = append(out, r)
	}

	appLog.Info("sanghos fetch completed", "count", len(out), "from_cache", fromCache)
	return out, nil
}
