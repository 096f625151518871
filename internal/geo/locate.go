package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	appLog "github.com/Devinfern/sanghos-sub004/internal/log"
	"github.com/Devinfern/sanghos-sub004/internal/model"
)

// Location acquisition failures. Callers get the underlying cause wrapped
// in one of these; there is no silent empty-location fallback.
var (
	ErrLocationUnavailable = errors.New("geo: location unavailable")
	ErrLocationTimeout     = errors.New("geo: location request timed out")
)

const (
	// locateTimeout bounds a single location request.
	locateTimeout = 10 * time.Second
	// locateMaxAge is how long a previously acquired position stays valid.
	locateMaxAge = 5 * time.Minute
)

// Locator acquires the user's location. Implementations return an error
// when no position can be determined; they never invent a default.
type Locator interface {
	Locate(ctx context.Context) (model.UserLocation, error)
}

// Fixed returns a Locator pinned to one location (config-supplied).
func Fixed(loc model.UserLocation) Locator {
	return fixedLocator{loc: loc}
}

type fixedLocator struct {
	loc model.UserLocation
}

func (f fixedLocator) Locate(context.Context) (model.UserLocation, error) {
	return f.loc, nil
}

// LocationStore is the subset of the store used to read a saved location
// preference.
type LocationStore interface {
	LoadLocation() (model.UserLocation, error)
}

// Stored returns a Locator backed by the saved location preference.
func Stored(st LocationStore) Locator {
	return storedLocator{st: st}
}

type storedLocator struct {
	st LocationStore
}

func (s storedLocator) Locate(context.Context) (model.UserLocation, error) {
	loc, err := s.st.LoadLocation()
	if err != nil {
		return model.UserLocation{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}
	return loc, nil
}

// HTTPLocator queries a geolocation endpoint returning
// {"lat": .., "lng": .., "address": ".."}.
type HTTPLocator struct {
	url    string
	client *http.Client
}

// NewHTTPLocator builds a locator against the given endpoint.
func NewHTTPLocator(url string) *HTTPLocator {
	return &HTTPLocator{
		url: url,
		client: &http.Client{
			Timeout: locateTimeout,
		},
	}
}

// Locate performs a single best-effort request bounded by the locate
// timeout.
func (h *HTTPLocator) Locate(ctx context.Context) (model.UserLocation, error) {
	if h.url == "" {
		return model.UserLocation{}, ErrLocationUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, locateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return model.UserLocation{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return model.UserLocation{}, fmt.Errorf("%w: %v", ErrLocationTimeout, err)
		}
		return model.UserLocation{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.UserLocation{}, fmt.Errorf("%w: %s", ErrLocationUnavailable, resp.Status)
	}

	var body struct {
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
		Address string  `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.UserLocation{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	return model.UserLocation{
		Coordinates: model.Coordinates{Lat: body.Lat, Lng: body.Lng},
		Address:     body.Address,
	}, nil
}

// Cached wraps a Locator so a successfully acquired position is reused for
// locateMaxAge before the inner locator is consulted again.
func Cached(inner Locator) Locator {
	return &cachedLocator{inner: inner, now: time.Now}
}

type cachedLocator struct {
	inner Locator
	now   func() time.Time

	mu  sync.Mutex
	loc model.UserLocation
	at  time.Time
}

func (c *cachedLocator) Locate(ctx context.Context) (model.UserLocation, error) {
	c.mu.Lock()
	if !c.at.IsZero() && c.now().Sub(c.at) < locateMaxAge {
		loc := c.loc
		c.mu.Unlock()
		return loc, nil
	}
	c.mu.Unlock()

	loc, err := c.inner.Locate(ctx)
	if err != nil {
		return model.UserLocation{}, err
	}

	c.mu.Lock()
	c.loc = loc
	c.at = c.now()
	c.mu.Unlock()
	return loc, nil
}

// LocationSaver is the subset of the store used to persist a resolved
// location.
type LocationSaver interface {
	SaveLocation(model.UserLocation) error
}

// Saving wraps a Locator so every successful resolution is persisted,
// letting the stored-preference locator serve it on later runs. A save
// failure is logged, not surfaced; the caller still gets the location.
func Saving(inner Locator, st LocationSaver) Locator {
	return savingLocator{inner: inner, st: st}
}

type savingLocator struct {
	inner Locator
	st    LocationSaver
}

func (s savingLocator) Locate(ctx context.Context) (model.UserLocation, error) {
	loc, err := s.inner.Locate(ctx)
	if err != nil {
		return model.UserLocation{}, err
	}
	if serr := s.st.SaveLocation(loc); serr != nil {
		appLog.Error("failed to persist resolved location", serr)
	}
	return loc, nil
}

// Chain tries each locator in order, returning the first success. The last
// failure is returned when all of them fail.
func Chain(locators ...Locator) Locator {
	return chainLocator(locators)
}

type chainLocator []Locator

func (c chainLocator) Locate(ctx context.Context) (model.UserLocation, error) {
	if len(c) == 0 {
		return model.UserLocation{}, ErrLocationUnavailable
	}
	var err error
	for _, l := range c {
		var loc model.UserLocation
		loc, err = l.Locate(ctx)
		if err == nil {
			return loc, nil
		}
	}
	return model.UserLocation{}, err
}
