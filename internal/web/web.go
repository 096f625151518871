// Package web exposes the aggregation result over HTTP: JSON views of the
// snapshot, a distance-sorted nearby listing, an event detail page with
// rendered markdown, and an iCalendar export.
package web

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/yuin/goldmark"

	"github.com/Devinfern/sanghos-sub004/internal/agg"
	"github.com/Devinfern/sanghos-sub004/internal/config"
	"github.com/Devinfern/sanghos-sub004/internal/dates"
	"github.com/Devinfern/sanghos-sub004/internal/geo"
	"github.com/Devinfern/sanghos-sub004/internal/icsexport"
	appLog "github.com/Devinfern/sanghos-sub004/internal/log"
	"github.com/Devinfern/sanghos-sub004/internal/model"
)

// Server wires the aggregator, locator and config into an http.Handler.
type Server struct {
	cfg        *config.Config
	aggregator *agg.Aggregator
	locator    geo.Locator
	clock      func() time.Time
	markdown   goldmark.Markdown
	mux        *http.ServeMux
}

// NewServer constructs a Server. clock may be nil for real time.
func NewServer(cfg *config.Config, aggregator *agg.Aggregator, locator geo.Locator, clock func() time.Time) *Server {
	if clock == nil {
		clock = time.Now
	}
	s := &Server{
		cfg:        cfg,
		aggregator: aggregator,
		locator:    locator,
		clock:      clock,
		markdown:   goldmark.New(),
		mux:        http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the server's http.Handler, wrapped in basic auth when
// configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards every endpoint except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Sanghos", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/retreats", s.handleRetreats)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/events/featured", s.handleFeatured)
	s.mux.HandleFunc("GET /api/events/nearby", s.handleNearby)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleEventDetail)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleRetreats returns the full aggregation snapshot.
func (s *Server) handleRetreats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.aggregator.Snapshot())
}

// handleEvents returns upcoming canonical events, optionally filtered by
// category (?category=yoga).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := dates.FilterPastEvents(s.aggregator.Snapshot().AllEvents, s.clock())

	if category := r.URL.Query().Get("category"); category != "" {
		want := model.NormalizeCategory(category)
		filtered := make([]model.Event, 0, len(events))
		for _, ev := range events {
			if ev.Category == want {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	writeJSON(w, http.StatusOK, struct {
		Events []model.Event `json:"events"`
	}{Events: events})
}

func (s *Server) handleFeatured(w http.ResponseWriter, _ *http.Request) {
	events := dates.FilterPastEvents(s.aggregator.Snapshot().FeaturedEvents, s.clock())
	writeJSON(w, http.StatusOK, struct {
		Events []model.Event `json:"events"`
	}{Events: events})
}

// nearbyEvent decorates an event with its formatted distance from the
// resolved user location. Events without coordinates carry no distance and
// sort last.
type nearbyEvent struct {
	model.Event
	Distance string `json:"distance,omitempty"`
}

// handleNearby returns upcoming events sorted by distance from the user.
// The location comes from ?lat=&lng= when present, otherwise from the
// configured locator chain; with neither, the request fails.
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	user, err := s.resolveLocation(r)
	if err != nil {
		writeError(w, http.StatusFailedDependency, "unable to determine a location: "+err.Error())
		return
	}

	events := dates.FilterPastEvents(s.aggregator.Snapshot().AllEvents, s.clock())
	sorted := geo.SortByDistance(events, user)

	out := make([]nearbyEvent, 0, len(sorted))
	for _, ev := range sorted {
		ne := nearbyEvent{Event: ev}
		if c := ev.Location.Coordinates; c != nil {
			miles := geo.Distance(user.Coordinates.Lat, user.Coordinates.Lng, c.Lat, c.Lng)
			ne.Distance = geo.FormatDistance(miles)
		}
		out = append(out, ne)
	}

	writeJSON(w, http.StatusOK, struct {
		Location model.UserLocation `json:"location"`
		Events   []nearbyEvent      `json:"events"`
	}{Location: user, Events: out})
}

func (s *Server) resolveLocation(r *http.Request) (model.UserLocation, error) {
	q := r.URL.Query()
	latStr, lngStr := q.Get("lat"), q.Get("lng")
	if latStr != "" || lngStr != "" {
		lat, latErr := strconv.ParseFloat(latStr, 64)
		lng, lngErr := strconv.ParseFloat(lngStr, 64)
		if latErr != nil || lngErr != nil {
			return model.UserLocation{}, errors.New("lat and lng must both be valid numbers")
		}
		return model.UserLocation{Coordinates: model.Coordinates{Lat: lat, Lng: lng}}, nil
	}
	if s.locator == nil {
		return model.UserLocation{}, geo.ErrLocationUnavailable
	}
	return s.locator.Locate(r.Context())
}

// eventDetail is the detail view: the event plus its long description
// rendered from markdown to HTML.
type eventDetail struct {
	model.Event
	DescriptionHTML string `json:"description_html,omitempty"`
}

func (s *Server) handleEventDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	for _, ev := range s.aggregator.Snapshot().AllEvents {
		if ev.ID != id {
			continue
		}
		detail := eventDetail{Event: ev}
		if ev.Description != "" {
			var buf bytes.Buffer
			if err := s.markdown.Convert([]byte(ev.Description), &buf); err != nil {
				appLog.Error("markdown render failed", err, "id", id)
			} else {
				detail.DescriptionHTML = buf.String()
			}
		}
		writeJSON(w, http.StatusOK, detail)
		return
	}

	writeError(w, http.StatusNotFound, "event not found: "+id)
}

// handleRefresh forces an aggregation pass. Concurrent calls are
// deduplicated by the aggregator.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.aggregator.Refresh(r.Context())
	if err != nil {
		// Even a total failure returns the (empty but valid) result.
		appLog.Error("forced refresh failed", err)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	now := s.clock()
	events := dates.FilterPastEvents(s.aggregator.Snapshot().AllEvents, now)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="sanghos.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(icsexport.Calendar(events, now)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
