package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Devinfern/sanghos-sub004/internal/agg"
	"github.com/Devinfern/sanghos-sub004/internal/config"
	"github.com/Devinfern/sanghos-sub004/internal/geo"
	appLog "github.com/Devinfern/sanghos-sub004/internal/log"
	"github.com/Devinfern/sanghos-sub004/internal/model"
	"github.com/Devinfern/sanghos-sub004/internal/source"
)

func TestMain(m *testing.M) {
	appLog.SetNop()
	m.Run()
}

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

type stubFetcher struct {
	id      string
	src     model.Source
	records []source.RawRecord
}

func (f *stubFetcher) ID() string           { return f.id }
func (f *stubFetcher) Source() model.Source { return f.src }
func (f *stubFetcher) Fetch(context.Context) ([]source.RawRecord, error) {
	return f.records, nil
}

type stubLocator struct {
	loc model.UserLocation
	err error
}

func (s stubLocator) Locate(context.Context) (model.UserLocation, error) {
	return s.loc, s.err
}

func floatPtr(v float64) *float64 { return &v }

func testServer(t *testing.T, cfg *config.Config, locator geo.Locator) *Server {
	t.Helper()

	records := []source.RawRecord{
		source.SanghosRetreat{
			ID:              "r-1",
			Title:           "Forest Retreat",
			LongDescription: "## Schedule\n\nArrive Friday.",
			Date:            "2026-09-10",
			Category:        "yoga",
			Featured:        true,
			Location: source.SanghosLocation{
				Name: "Cedar Lodge",
				Lat:  floatPtr(34.44),
				Lng:  floatPtr(-119.25),
			},
		},
		source.SanghosRetreat{
			ID:       "r-2",
			Title:    "City Workshop",
			Date:     "2026-09-05",
			Category: "workshop",
			Location: source.SanghosLocation{
				Name: "Downtown Studio",
				Lat:  floatPtr(34.04),
				Lng:  floatPtr(-118.25),
			},
		},
		source.SanghosRetreat{
			ID:       "r-old",
			Title:    "Past Retreat",
			Date:     "2026-08-01",
			Category: "yoga",
		},
	}

	insight := []source.RawRecord{
		source.InsightLAEvent{
			ID:        "e-1",
			Title:     "Morning Sit",
			Date:      "2026-09-08T07:00:00Z",
			EventType: "meditation",
			Location:  "InsightLA East Hollywood",
		},
	}

	aggregator := agg.New([]source.Fetcher{
		&stubFetcher{id: "sanghos", src: model.SourceSanghos, records: records},
		&stubFetcher{id: "insightla", src: model.SourceInsightLA, records: insight},
	}, agg.WithClock(testClock))

	_, err := aggregator.Refresh(context.Background())
	require.NoError(t, err)

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return NewServer(cfg, aggregator, locator, testClock)
}

func doGET(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := testServer(t, nil, nil)
	rec := doGET(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRetreatsSnapshot(t *testing.T) {
	s := testServer(t, nil, nil)
	rec := doGET(t, s.Handler(), "/api/retreats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		AllRetreats       []json.RawMessage `json:"allRetreats"`
		SanghosRetreats   []json.RawMessage `json:"sanghosRetreats"`
		InsightLARetreats []json.RawMessage `json:"insightLARetreats"`
		AllEvents         []model.Event     `json:"allEvents"`
		FeaturedEvents    []model.Event     `json:"featuredEvents"`
		IsLoading         bool              `json:"isLoading"`
		Error             string            `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	// r-old is filtered out in the pipeline; the rest survive.
	assert.Len(t, body.AllRetreats, 3)
	assert.Len(t, body.SanghosRetreats, 2)
	assert.Len(t, body.InsightLARetreats, 1)
	assert.Len(t, body.AllEvents, 3)
	require.Len(t, body.FeaturedEvents, 1)
	assert.Equal(t, "r-1", body.FeaturedEvents[0].ID)
	assert.False(t, body.IsLoading)
	assert.Empty(t, body.Error)
}

func TestEventsCategoryFilter(t *testing.T) {
	s := testServer(t, nil, nil)

	rec := doGET(t, s.Handler(), "/api/events?category=meditation")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []model.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "e-1", body.Events[0].ID)
}

func TestFeaturedEndpoint(t *testing.T) {
	s := testServer(t, nil, nil)
	rec := doGET(t, s.Handler(), "/api/events/featured")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []model.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "r-1", body.Events[0].ID)
}

func TestNearbyWithQueryCoordinates(t *testing.T) {
	s := testServer(t, nil, nil)

	// Downtown LA: the workshop is closest, the lodge further, the sit
	// last (its free-text venue has no coordinates).
	rec := doGET(t, s.Handler(), "/api/events/nearby?lat=34.05&lng=-118.24")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []struct {
			ID       string `json:"id"`
			Distance string `json:"distance"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 3)
	assert.Equal(t, "r-2", body.Events[0].ID)
	assert.NotEmpty(t, body.Events[0].Distance)
	assert.Equal(t, "r-1", body.Events[1].ID)
	assert.Equal(t, "e-1", body.Events[2].ID)
	assert.Empty(t, body.Events[2].Distance)
}

func TestNearbyUsesLocator(t *testing.T) {
	s := testServer(t, nil, stubLocator{
		loc: model.UserLocation{Coordinates: model.Coordinates{Lat: 34.05, Lng: -118.24}},
	})
	rec := doGET(t, s.Handler(), "/api/events/nearby")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNearbyLocatorFailure(t *testing.T) {
	s := testServer(t, nil, stubLocator{err: geo.ErrLocationUnavailable})
	rec := doGET(t, s.Handler(), "/api/events/nearby")
	assert.Equal(t, http.StatusFailedDependency, rec.Code)
}

func TestNearbyRejectsBadCoordinates(t *testing.T) {
	s := testServer(t, nil, nil)
	rec := doGET(t, s.Handler(), "/api/events/nearby?lat=abc&lng=-118")
	assert.Equal(t, http.StatusFailedDependency, rec.Code)
}

func TestEventDetailRendersMarkdown(t *testing.T) {
	s := testServer(t, nil, nil)
	rec := doGET(t, s.Handler(), "/api/events/r-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ID              string `json:"id"`
		DescriptionHTML string `json:"description_html"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "r-1", body.ID)
	assert.Contains(t, body.DescriptionHTML, "<h2>Schedule</h2>")
}

func TestEventDetailNotFound(t *testing.T) {
	s := testServer(t, nil, nil)
	rec := doGET(t, s.Handler(), "/api/events/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalendarFeed(t *testing.T) {
	s := testServer(t, nil, nil)
	rec := doGET(t, s.Handler(), "/calendar.ics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
	assert.Contains(t, rec.Body.String(), "SUMMARY:Forest Retreat")
}

func TestRefreshEndpoint(t *testing.T) {
	s := testServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		IsLoading bool `json:"isLoading"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.IsLoading)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	s := testServer(t, cfg, nil)
	h := s.Handler()

	// /health stays open.
	rec := doGET(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doGET(t, h, "/api/retreats")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/retreats", nil)
	req.SetBasicAuth("admin", "secret")
	ok := httptest.NewRecorder()
	h.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/retreats", nil)
	req.SetBasicAuth("admin", "wrong")
	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
}
