package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	applog "dragcal/internal/log"
)

// Feed represents a single ICS subscription source.
type Feed struct {
	// ID is an internal identifier (e.g., config feed ID).
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single feed.
type FetchResult struct {
	Feed        Feed
	Body        []byte // ICS payload, possibly with a local overlay applied
	FromCache   bool   // true if the cached body was reused (304 or network error)
	FromOverlay bool   // true if Body is the locally rescheduled overlay
}

// cacheMeta holds HTTP cache metadata for a single feed URL.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`

	// OverlayETag records the upstream ETag an overlay was derived from.
	// When the upstream body changes, the overlay is stale and dropped.
	OverlayETag string `json:"overlay_etag,omitempty"`
}

const (
	metaFile    = "meta.json"
	bodyFile    = "body.ics"
	overlayFile = "overlay.ics"
)

// Fetcher fetches ICS feeds with conditional requests (ETag /
// Last-Modified), a disk-backed body cache, and a per-feed overlay: a
// locally modified copy of the calendar carrying committed reschedules.
// Upstream always wins: an overlay derived from an older upstream body
// is discarded on the next refresh that sees new content.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher rooted at cacheDir, e.g.
// "/var/lib/dragcal/feed-cache".
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		// Relative fallback so development runs without root permissions.
		cacheDir = "./var/feed-cache"
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
}

// FetchAll fetches every feed and returns the per-feed results. Errors
// for individual feeds are logged and collected; the result slice only
// contains feeds that produced a body.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []Feed) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(feeds))
	var errs []error

	for _, feed := range feeds {
		res, err := f.FetchOne(ctx, feed)
		if err != nil {
			errs = append(errs, err)
			applog.Error("feed fetch failed", err, "feed", feed.ID, "url", redactURL(feed.URL))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// FetchOne fetches a single feed, honoring ETag and Last-Modified, and
// substitutes a still-valid overlay body when present.
func (f *Fetcher) FetchOne(ctx context.Context, feed Feed) (FetchResult, error) {
	if feed.URL == "" {
		return FetchResult{}, errors.New("feed URL is empty")
	}

	dir := f.dirFor(feed.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := readMeta(dir)
	cachedBody, _ := os.ReadFile(filepath.Join(dir, bodyFile))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// Network error: fall back to cache when possible.
		if len(cachedBody) > 0 {
			applog.Error("feed fetch network error, using cached body", err,
				"feed", feed.ID, "url", redactURL(feed.URL))
			return f.withOverlay(dir, meta, FetchResult{Feed: feed, Body: cachedBody, FromCache: true}), nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}

		meta = cacheMeta{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
			OverlayETag:  meta.OverlayETag,
		}
		if err := writeCache(dir, meta, body); err != nil {
			applog.Error("feed cache save failed", err, "feed", feed.ID)
		}

		applog.Info("feed fetch success", "feed", feed.ID, "url", redactURL(feed.URL), "from_cache", false)
		return f.withOverlay(dir, meta, FetchResult{Feed: feed, Body: body}), nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		applog.Info("feed not modified; using cache", "feed", feed.ID)
		return f.withOverlay(dir, meta, FetchResult{Feed: feed, Body: cachedBody, FromCache: true}), nil

	default:
		if len(cachedBody) > 0 {
			applog.Error("feed fetch non-OK, using cached body", errors.New(resp.Status),
				"feed", feed.ID, "status", resp.StatusCode)
			return f.withOverlay(dir, meta, FetchResult{Feed: feed, Body: cachedBody, FromCache: true}), nil
		}
		return FetchResult{}, errors.New(resp.Status)
	}
}

// SaveOverlay persists a locally modified calendar body for the feed,
// pinned to the upstream ETag it was derived from.
func (f *Fetcher) SaveOverlay(feedURL string, body []byte) error {
	dir := f.dirFor(feedURL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, overlayFile), body, 0o600); err != nil {
		return err
	}
	meta, _ := readMeta(dir)
	meta.URL = feedURL
	meta.OverlayETag = meta.ETag
	return writeMeta(dir, meta)
}

// withOverlay swaps in the overlay body when one exists and is still
// derived from the current upstream content; a stale overlay is removed.
func (f *Fetcher) withOverlay(dir string, meta cacheMeta, res FetchResult) FetchResult {
	overlay, err := os.ReadFile(filepath.Join(dir, overlayFile))
	if err != nil || len(overlay) == 0 {
		return res
	}
	if meta.OverlayETag != meta.ETag {
		applog.Info("feed content changed upstream; dropping stale reschedule overlay",
			"feed", res.Feed.ID)
		_ = os.Remove(filepath.Join(dir, overlayFile))
		return res
	}
	res.Body = overlay
	res.FromOverlay = true
	return res
}

func (f *Fetcher) dirFor(feedURL string) string {
	sum := sha256.Sum256([]byte(feedURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func readMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

func writeMeta(dir string, meta cacheMeta) error {
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metaFile), data, 0o600)
}

func writeCache(dir string, meta cacheMeta, body []byte) error {
	// Body first, so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, bodyFile), body, 0o600); err != nil {
		return err
	}
	return writeMeta(dir, meta)
}

// redactURL hides path and query of a feed URL for logging; private
// calendars commonly embed access tokens there.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
