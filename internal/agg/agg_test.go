package agg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appLog "github.com/Devinfern/sanghos-sub004/internal/log"
	"github.com/Devinfern/sanghos-sub004/internal/model"
	"github.com/Devinfern/sanghos-sub004/internal/source"
)

func TestMain(m *testing.M) {
	appLog.SetNop()
	m.Run()
}

// stubFetcher returns canned records or an error.
type stubFetcher struct {
	id      string
	src     model.Source
	records []source.RawRecord
	err     error
	calls   int
}

func (f *stubFetcher) ID() string           { return f.id }
func (f *stubFetcher) Source() model.Source { return f.src }

func (f *stubFetcher) Fetch(context.Context) ([]source.RawRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

// flagOnlyRecord marks featured on the raw side without carrying the flag
// through its transform, exercising the cross-representation lookup.
type flagOnlyRecord struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Promoted bool   `json:"promoted"`
}

func (r flagOnlyRecord) RawID() string            { return r.ID }
func (r flagOnlyRecord) RawDate() string          { return r.Date }
func (r flagOnlyRecord) Provenance() model.Source { return model.SourceSanghos }
func (r flagOnlyRecord) IsFeatured() bool         { return r.Promoted }

func (r flagOnlyRecord) Normalize() model.Event {
	start, _ := time.Parse("2006-01-02", r.Date)
	return model.Event{
		ID:       r.ID,
		Source:   model.SourceSanghos,
		Title:    r.ID,
		Category: model.DefaultCategory,
		Start:    start,
		End:      start,
		// Featured intentionally left false here.
	}
}

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func sanghosRecord(id, date string, featured bool) source.SanghosRetreat {
	return source.SanghosRetreat{
		ID:       id,
		Title:    "Retreat " + id,
		Date:     date,
		Category: "yoga",
		Featured: featured,
	}
}

func insightRecord(id, date string) source.InsightLAEvent {
	return source.InsightLAEvent{
		ID:        id,
		Title:     "Sit " + id,
		Date:      date,
		EventType: "meditation",
	}
}

func TestRefreshPartialFailure(t *testing.T) {
	a := New([]source.Fetcher{
		&stubFetcher{
			id:      "sanghos",
			src:     model.SourceSanghos,
			records: []source.RawRecord{sanghosRecord("1", "2026-09-01", false)},
		},
		&stubFetcher{
			id:  "insightla",
			src: model.SourceInsightLA,
			err: errors.New("edge function unavailable"),
		},
	}, WithClock(testClock))

	res, err := a.Refresh(context.Background())
	require.NoError(t, err, "partial success must not surface as an error")

	assert.False(t, res.IsLoading)
	assert.Empty(t, res.Error)
	require.Len(t, res.AllRetreats, 1)
	assert.Equal(t, "1", res.AllRetreats[0].RawID())
	assert.Len(t, res.SanghosRetreats, 1)
	assert.Empty(t, res.InsightLARetreats)
	require.Len(t, res.AllEvents, 1)
	assert.Equal(t, model.SourceSanghos, res.AllEvents[0].Source)
}

func TestRefreshAllSourcesFail(t *testing.T) {
	a := New([]source.Fetcher{
		&stubFetcher{id: "sanghos", src: model.SourceSanghos, err: errors.New("boom")},
		&stubFetcher{id: "insightla", src: model.SourceInsightLA, err: errors.New("bust")},
	}, WithClock(testClock))

	res, err := a.Refresh(context.Background())
	require.Error(t, err)
	assert.False(t, res.IsLoading)
	assert.Contains(t, res.Error, "all sources failed")
	assert.Empty(t, res.AllRetreats)
	assert.Empty(t, res.AllEvents)
}

func TestSnapshotLoadingBeforeFirstRefresh(t *testing.T) {
	a := New([]source.Fetcher{
		&stubFetcher{id: "sanghos", src: model.SourceSanghos},
	}, WithClock(testClock))

	snap := a.Snapshot()
	assert.True(t, snap.IsLoading)
	assert.Empty(t, snap.AllEvents)
}

func TestTemporalFilterInPipeline(t *testing.T) {
	a := New([]source.Fetcher{
		&stubFetcher{
			id:  "sanghos",
			src: model.SourceSanghos,
			records: []source.RawRecord{
				sanghosRecord("yesterday", "2026-08-31", false),
				sanghosRecord("today", "2026-09-01", false),
			},
		},
	}, WithClock(testClock))

	res, err := a.Refresh(context.Background())
	require.NoError(t, err)

	require.Len(t, res.AllRetreats, 1)
	assert.Equal(t, "today", res.AllRetreats[0].RawID())
	require.Len(t, res.AllEvents, 1)
	assert.Equal(t, "today", res.AllEvents[0].ID)
}

func TestFeaturedRule(t *testing.T) {
	cases := []struct {
		name         string
		rawFeatured  bool
		wantFeatured bool
	}{
		{"raw flag set", true, true},
		{"neither flag set", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := New([]source.Fetcher{
				&stubFetcher{
					id:      "sanghos",
					src:     model.SourceSanghos,
					records: []source.RawRecord{sanghosRecord("r", "2026-09-05", tc.rawFeatured)},
				},
			}, WithClock(testClock))

			res, err := a.Refresh(context.Background())
			require.NoError(t, err)
			if tc.wantFeatured {
				require.Len(t, res.FeaturedEvents, 1)
				assert.Equal(t, "r", res.FeaturedEvents[0].ID)
			} else {
				assert.Empty(t, res.FeaturedEvents)
			}
		})
	}
}

// The featured rule ORs across representations: a canonical event with its
// own flag clear is still featured when the raw record matched by ID in the
// merged collection is marked featured. InsightLA records never carry the
// flag, so their events stay out of the featured subset.
func TestFeaturedRuleRawLookupAcrossMergedCollection(t *testing.T) {
	a := New([]source.Fetcher{
		&stubFetcher{
			id:  "sanghos",
			src: model.SourceSanghos,
			records: []source.RawRecord{
				sanghosRecord("promoted", "2026-09-03", true),
				sanghosRecord("plain", "2026-09-03", false),
			},
		},
		&stubFetcher{
			id:      "insightla",
			src:     model.SourceInsightLA,
			records: []source.RawRecord{insightRecord("sit-1", "2026-09-04")},
		},
	}, WithClock(testClock))

	res, err := a.Refresh(context.Background())
	require.NoError(t, err)

	require.Len(t, res.AllEvents, 3)
	require.Len(t, res.FeaturedEvents, 1)
	assert.Equal(t, "promoted", res.FeaturedEvents[0].ID)
}

func TestFeaturedRuleCanonicalFlagClearRawFlagSet(t *testing.T) {
	a := New([]source.Fetcher{
		&stubFetcher{
			id:  "sanghos",
			src: model.SourceSanghos,
			records: []source.RawRecord{
				flagOnlyRecord{ID: "quiet", Date: "2026-09-06"},
				flagOnlyRecord{ID: "loud", Date: "2026-09-06", Promoted: true},
			},
		},
	}, WithClock(testClock))

	res, err := a.Refresh(context.Background())
	require.NoError(t, err)

	// Canonical flag is false on both; only the raw-side flag promotes.
	require.Len(t, res.FeaturedEvents, 1)
	assert.Equal(t, "loud", res.FeaturedEvents[0].ID)
	assert.False(t, res.FeaturedEvents[0].Featured)
}

func TestRecomputeOnlyOnChange(t *testing.T) {
	f := &stubFetcher{
		id:      "sanghos",
		src:     model.SourceSanghos,
		records: []source.RawRecord{sanghosRecord("1", "2026-09-01", false)},
	}
	a := New([]source.Fetcher{f}, WithClock(testClock))

	first, err := a.Refresh(context.Background())
	require.NoError(t, err)

	// Same payload: derived views unchanged.
	second, err := a.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.AllEvents, second.AllEvents)

	// Changed payload: derived views recomputed.
	f.records = []source.RawRecord{
		sanghosRecord("1", "2026-09-01", false),
		sanghosRecord("2", "2026-09-02", false),
	}
	third, err := a.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, third.AllEvents, 2)
}

func TestFailedSourceRecoversOnNextPass(t *testing.T) {
	f := &stubFetcher{id: "insightla", src: model.SourceInsightLA, err: errors.New("down")}
	a := New([]source.Fetcher{f}, WithClock(testClock))

	res, err := a.Refresh(context.Background())
	require.Error(t, err)
	assert.Empty(t, res.AllRetreats)

	f.err = nil
	f.records = []source.RawRecord{insightRecord("sit-1", "2026-09-02")}

	res, err = a.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Error)
	require.Len(t, res.AllRetreats, 1)
	assert.Equal(t, "sit-1", res.AllRetreats[0].RawID())
}

func TestSnapshotIsACopy(t *testing.T) {
	a := New([]source.Fetcher{
		&stubFetcher{
			id:      "sanghos",
			src:     model.SourceSanghos,
			records: []source.RawRecord{sanghosRecord("1", "2026-09-01", false)},
		},
	}, WithClock(testClock))

	_, err := a.Refresh(context.Background())
	require.NoError(t, err)

	snap := a.Snapshot()
	snap.AllEvents[0].Title = "mutated"

	assert.Equal(t, "Retreat 1", a.Snapshot().AllEvents[0].Title)
}
