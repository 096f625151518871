// Package source defines the upstream catalog fetchers and the per-source
// raw record shapes, together with their transforms into the canonical
// event model.
package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	appLog "github.com/Devinfern/sanghos-sub004/internal/log"
	"github.com/Devinfern/sanghos-sub004/internal/model"
	"github.com/Devinfern/sanghos-sub004/internal/store"
)

// RawRecord is a retreat/event entry in its originating source's native
// shape. Records are immutable once fetched: created by a fetch pass,
// consumed once by Normalize, then discarded.
type RawRecord interface {
	// RawID returns the source-assigned identity. Fetchers fill in a ULID
	// when the source record carries none, so the ID is always non-empty
	// and shared with the normalized event.
	RawID() string
	// RawDate returns the record's primary date-bearing field as the source
	// provided it (a calendar date or an ISO timestamp).
	RawDate() string
	// Provenance identifies the producing source.
	Provenance() model.Source
	// IsFeatured reports the source's own promotion flag, false when the
	// source has no such concept.
	IsFeatured() bool
	// Normalize maps the record into the canonical event shape. It is
	// total: malformed fields degrade to documented defaults, never errors.
	Normalize() model.Event
}

// Fetcher retrieves one source's raw records. Implementations are
// independent and fallible; a failing fetcher must not affect the others.
type Fetcher interface {
	ID() string
	Source() model.Source
	Fetch(ctx context.Context) ([]RawRecord, error)
}

// PayloadCache is the subset of the store used for conditional fetching.
type PayloadCache interface {
	SavePayload(store.CachedPayload) error
	LoadPayload(sourceID string) (store.CachedPayload, error)
}

// Client performs HTTP fetches with ETag / Last-Modified revalidation and
// a cached-body fallback when the upstream is unreachable.
type Client struct {
	http  *http.Client
	cache PayloadCache
}

// NewClient builds a Client. cache may be nil, disabling conditional
// requests and fallback.
func NewClient(cache PayloadCache) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		cache: cache,
	}
}

// fetchBody GETs url, honoring cached validators. It returns the body and
// whether it came from cache.
func (c *Client) fetchBody(ctx context.Context, sourceID, url string) ([]byte, bool, error) {
	if url == "" {
		return nil, false, errors.New("source URL is empty")
	}

	var cached store.CachedPayload
	if c.cache != nil {
		cached, _ = c.cache.LoadPayload(sourceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	if cached.ETag != "" {
		req.Header.Set("If-None-Match", cached.ETag)
	}
	if cached.LastModified != "" {
		req.Header.Set("If-Modified-Since", cached.LastModified)
	}

	appLog.Debug("source fetch start", "source", sourceID)

	resp, err := c.http.Do(req)
	if err != nil {
		if len(cached.Body) > 0 {
			appLog.Error("source fetch network error, using cached body", err, "source", sourceID)
			return cached.Body, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, false, readErr
		}
		if c.cache != nil {
			saveErr := c.cache.SavePayload(store.CachedPayload{
				SourceID:     sourceID,
				URL:          url,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
				Body:         body,
			})
			if saveErr != nil {
				// Still return the freshly fetched body.
				appLog.Error("source cache save failed", saveErr, "source", sourceID)
			}
		}
		appLog.Info("source fetch success", "source", sourceID, "status", resp.StatusCode)
		return body, false, nil

	case http.StatusNotModified:
		if len(cached.Body) == 0 {
			return nil, false, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("source fetch not modified; using cache", "source", sourceID)
		return cached.Body, true, nil

	default:
		if len(cached.Body) > 0 {
			appLog.Error("source fetch non-OK, using cached body", errors.New(resp.Status), "source", sourceID, "status", resp.StatusCode)
			return cached.Body, true, nil
		}
		return nil, false, errors.New(resp.Status)
	}
}

// newID mints an identifier for records whose source supplied none. The
// fetchers run concurrently, so this goes through ulid.Make, whose global
// entropy source is locked.
func newID() string {
	return ulid.Make().String()
}
