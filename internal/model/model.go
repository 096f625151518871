package model

import "time"

// Source identifies which upstream catalog produced an event. Every
// canonical event carries exactly one of these as its provenance tag.
type Source string

const (
	SourceSanghos   Source = "sanghos"
	SourceInsightLA Source = "insightla"
	SourcePartner   Source = "partner-ics"
)

// Category is the closed set of event categories. Transformers never emit a
// value outside this set; unrecognized source categories are coerced to
// DefaultCategory.
type Category string

const (
	CategoryYoga       Category = "yoga"
	CategoryMeditation Category = "meditation"
	CategoryFitness    Category = "fitness"
	CategoryNutrition  Category = "nutrition"
	CategoryWorkshop   Category = "workshop"
	CategoryRetreat    Category = "retreat"
	CategoryOnline     Category = "online"
)

// DefaultCategory is the documented fallback for unrecognized categories.
const DefaultCategory = CategoryRetreat

// NormalizeCategory maps an arbitrary source category string onto the
// closed set, falling back to DefaultCategory.
func NormalizeCategory(s string) Category {
	switch Category(s) {
	case CategoryYoga, CategoryMeditation, CategoryFitness, CategoryNutrition,
		CategoryWorkshop, CategoryRetreat, CategoryOnline:
		return Category(s)
	}
	return DefaultCategory
}

// Coordinates is a geographic point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Venue is a structured physical event location.
type Venue struct {
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// EventLocation is either a physical venue (possibly with resolved
// coordinates) or an online marker. Online implies the venue fields are
// unused.
type EventLocation struct {
	Online      bool         `json:"online"`
	Venue       Venue        `json:"venue"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// Organizer names who runs the event.
type Organizer struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
}

// Price is a numeric amount with sentinels for "free" and "unspecified".
//
//   - Amount non-nil: a concrete price.
//   - Amount nil, Free true: the source defines absence of a price as free
//     admission (InsightLA's convention).
//   - Amount nil, Free false: price unknown. Never rendered as zero.
type Price struct {
	Amount *float64 `json:"amount,omitempty"`
	Free   bool     `json:"free,omitempty"`
}

// FreePrice returns the free-admission sentinel.
func FreePrice() Price { return Price{Free: true} }

// KnownPrice returns a concrete price.
func KnownPrice(amount float64) Price { return Price{Amount: &amount} }

// Event is the canonical, source-independent event shape. Created by a
// transformer from exactly one raw record and never mutated afterwards.
// Invariant: Start is never after End.
type Event struct {
	ID               string        `json:"id"`
	Source           Source        `json:"source"`
	Title            string        `json:"title"`
	ShortDescription string        `json:"short_description,omitempty"`
	Description      string        `json:"description,omitempty"`
	ImageURL         string        `json:"image_url,omitempty"`
	Category         Category      `json:"category"`
	Start            time.Time     `json:"start_date"`
	End              time.Time     `json:"end_date"`
	Location         EventLocation `json:"location"`
	BookingURL       string        `json:"booking_url,omitempty"`
	Price            Price         `json:"price"`
	Organizer        Organizer     `json:"organizer"`
	Capacity         int           `json:"capacity,omitempty"`
	Remaining        int           `json:"remaining,omitempty"`
	Featured         bool          `json:"featured"`
}

// UserLocation is an externally supplied coordinate pair with an optional
// human-readable address. The aggregation core reads it for distance
// sorting only and does not own its persistence.
type UserLocation struct {
	Coordinates Coordinates `json:"coordinates"`
	Address     string      `json:"address,omitempty"`
}
