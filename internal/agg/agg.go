// Package agg orchestrates the source fetchers and derives the aggregated
// event views.
package agg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Devinfern/sanghos-sub004/internal/dates"
	appLog "github.com/Devinfern/sanghos-sub004/internal/log"
	"github.com/Devinfern/sanghos-sub004/internal/model"
	"github.com/Devinfern/sanghos-sub004/internal/source"
)

// Result is the aggregation snapshot handed to consumers. It is a value:
// recomputed wholesale on change, never patched in place. Slices are
// copies; callers may not observe later refreshes through them.
type Result struct {
	AllRetreats       []source.RawRecord `json:"allRetreats"`
	SanghosRetreats   []source.RawRecord `json:"sanghosRetreats"`
	InsightLARetreats []source.RawRecord `json:"insightLARetreats"`
	PartnerRetreats   []source.RawRecord `json:"partnerRetreats,omitempty"`
	AllEvents         []model.Event      `json:"allEvents"`
	FeaturedEvents    []model.Event      `json:"featuredEvents"`
	IsLoading         bool               `json:"isLoading"`
	Error             string             `json:"error,omitempty"`
}

// Aggregator owns the per-source raw collections and the derived views.
// All collaborators with ambient state (the clock, the fetchers' transport
// and cache) are injected at construction.
type Aggregator struct {
	fetchers []source.Fetcher
	clock    func() time.Time

	sf singleflight.Group

	mu           sync.RWMutex
	result       Result
	fingerprints map[string]uint64
	rawBySource  map[string][]source.RawRecord
	errsBySource map[string]error
	settled      bool
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock injects the reference-time supplier used by the temporal
// filter. Defaults to real time.
func WithClock(clock func() time.Time) Option {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// New builds an Aggregator over the given fetchers.
func New(fetchers []source.Fetcher, opts ...Option) *Aggregator {
	a := &Aggregator{
		fetchers:     fetchers,
		clock:        time.Now,
		fingerprints: make(map[string]uint64),
		rawBySource:  make(map[string][]source.RawRecord),
		errsBySource: make(map[string]error),
		result:       Result{IsLoading: true},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Snapshot returns the current aggregation result. Before the first
// refresh settles, IsLoading is true and all collections are empty.
func (a *Aggregator) Snapshot() Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyResult(a.result)
}

// Refresh runs one aggregation pass: all fetchers issued concurrently,
// joined all-settled, derived views recomputed when any source's raw
// collection actually changed. Concurrent callers collapse into a single
// pass. The returned error is non-nil only when every source failed.
func (a *Aggregator) Refresh(ctx context.Context) (Result, error) {
	v, err, _ := a.sf.Do("refresh", func() (any, error) {
		return a.refresh(ctx)
	})
	res, _ := v.(Result)
	return res, err
}

type fetchOutcome struct {
	id      string
	records []source.RawRecord
	err     error
}

func (a *Aggregator) refresh(ctx context.Context) (Result, error) {
	outcomes := make([]fetchOutcome, len(a.fetchers))

	var wg sync.WaitGroup
	for i, f := range a.fetchers {
		wg.Add(1)
		go func(i int, f source.Fetcher) {
			defer wg.Done()
			records, err := f.Fetch(ctx)
			outcomes[i] = fetchOutcome{id: f.ID(), records: records, err: err}
		}(i, f)
	}
	wg.Wait()

	changed := false
	failures := make([]string, 0)

	a.mu.Lock()
	for _, out := range outcomes {
		if out.err != nil {
			// A failed source contributes an empty collection to this pass.
			appLog.Warn("source fetch failed; contributing no records", "source", out.id, "err", out.err.Error())
			failures = append(failures, fmt.Sprintf("%s: %v", out.id, out.err))
			a.errsBySource[out.id] = out.err
			out.records = nil
		} else {
			delete(a.errsBySource, out.id)
		}

		fp := fingerprint(out.records)
		if a.fingerprints[out.id] != fp {
			a.fingerprints[out.id] = fp
			a.rawBySource[out.id] = out.records
			changed = true
		}
	}

	if changed || !a.settled {
		a.result = a.compute()
	}
	a.settled = true
	a.result.IsLoading = false

	a.result.Error = ""
	var refreshErr error
	if len(failures) == len(a.fetchers) && len(a.fetchers) > 0 {
		// Partial success is not an error; only a total failure surfaces.
		a.result.Error = "all sources failed: " + strings.Join(failures, "; ")
		refreshErr = errors.New(a.result.Error)
	}

	res := copyResult(a.result)
	a.mu.Unlock()

	appLog.Info("aggregation pass completed",
		"changed", changed,
		"events", len(res.AllEvents),
		"featured", len(res.FeaturedEvents),
		"failed_sources", len(failures),
	)
	return res, refreshErr
}

// compute rebuilds the derived views from the per-source raw collections.
// Caller holds the write lock.
func (a *Aggregator) compute() Result {
	now := a.clock()

	res := Result{
		AllRetreats:       make([]source.RawRecord, 0),
		SanghosRetreats:   make([]source.RawRecord, 0),
		InsightLARetreats: make([]source.RawRecord, 0),
		AllEvents:         make([]model.Event, 0),
		FeaturedEvents:    make([]model.Event, 0),
	}

	// Fetcher order keeps the merged collection deterministic.
	for _, f := range a.fetchers {
		raw := dates.FilterPastRetreats(a.rawBySource[f.ID()], now)
		res.AllRetreats = append(res.AllRetreats, raw...)
		switch f.Source() {
		case model.SourceSanghos:
			res.SanghosRetreats = append(res.SanghosRetreats, raw...)
		case model.SourceInsightLA:
			res.InsightLARetreats = append(res.InsightLARetreats, raw...)
		case model.SourcePartner:
			res.PartnerRetreats = append(res.PartnerRetreats, raw...)
		}
	}

	rawByID := make(map[string]source.RawRecord, len(res.AllRetreats))
	for _, rec := range res.AllRetreats {
		rawByID[rec.RawID()] = rec
	}

	for _, rec := range res.AllRetreats {
		res.AllEvents = append(res.AllEvents, rec.Normalize())
	}

	// An event is featured when its own flag is set OR the raw record
	// matched by ID across the merged collection is marked featured.
	for _, ev := range res.AllEvents {
		featured := ev.Featured
		if raw, ok := rawByID[ev.ID]; ok && raw.IsFeatured() {
			featured = true
		}
		if featured {
			res.FeaturedEvents = append(res.FeaturedEvents, ev)
		}
	}

	return res
}

// fingerprint hashes a raw collection so unchanged sources do not trigger
// a recompute of the derived views.
func fingerprint(records []source.RawRecord) uint64 {
	h := fnv.New64a()
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			fmt.Fprintf(h, "%#v", rec)
			continue
		}
		h.Write(data)
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func copyResult(r Result) Result {
	out := r
	out.AllRetreats = append([]source.RawRecord(nil), r.AllRetreats...)
	out.SanghosRetreats = append([]source.RawRecord(nil), r.SanghosRetreats...)
	out.InsightLARetreats = append([]source.RawRecord(nil), r.InsightLARetreats...)
	out.PartnerRetreats = append([]source.RawRecord(nil), r.PartnerRetreats...)
	out.AllEvents = append([]model.Event(nil), r.AllEvents...)
	out.FeaturedEvents = append([]model.Event(nil), r.FeaturedEvents...)
	return out
}
