package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dragcal/internal/ics"
	applog "dragcal/internal/log"
	"dragcal/internal/model"
	"dragcal/internal/obs"
)

// ErrNotFound reports a lookup for an occurrence the store does not hold.
var ErrNotFound = errors.New("occurrence not found")

// feedState is everything the store remembers about one feed between
// refreshes: the last body (needed by the reschedule applier) and the
// parsed events it produced.
type feedState struct {
	feed    ics.Feed
	body    []byte
	events  []ics.RawEvent
	overlay bool // body carries a local reschedule overlay
}

// Store holds the expanded occurrence view of all subscribed feeds. It
// is refreshed periodically (cron) or on demand, and it is the single
// place a committed drag is applied: the matching feed body is rewritten
// through the ICS applier, persisted as an overlay, and re-expanded so
// callers immediately see the moved occurrence.
type Store struct {
	fetcher *ics.Fetcher
	feeds   []ics.Feed
	loc     *time.Location
	horizon int // future days
	back    int // past days
	metrics *obs.Metrics

	mu          sync.RWMutex
	byFeed      map[string]*feedState
	occurrences []model.Occurrence
	truncated   []string
	rangeStart  time.Time
	rangeEnd    time.Time
	refreshedAt time.Time
}

// New builds a Store. metrics may be nil.
func New(fetcher *ics.Fetcher, feeds []ics.Feed, loc *time.Location, horizonDays, backfillDays int, metrics *obs.Metrics) *Store {
	if loc == nil {
		loc = time.Local
	}
	if horizonDays <= 0 {
		horizonDays = 7
	}
	if backfillDays < 0 {
		backfillDays = 0
	}
	return &Store{
		fetcher: fetcher,
		feeds:   feeds,
		loc:     loc,
		horizon: horizonDays,
		back:    backfillDays,
		metrics: metrics,
		byFeed:  make(map[string]*feedState),
	}
}

// Refresh fetches every feed, re-parses, and rebuilds the occurrence
// snapshot for a window around now. Individual feed failures are logged
// and skipped; the refresh only fails outright when expansion does.
func (s *Store) Refresh(ctx context.Context) error {
	now := time.Now().In(s.loc)
	rangeStart := now.AddDate(0, 0, -s.back)
	rangeEnd := now.AddDate(0, 0, s.horizon)

	results, errs := s.fetcher.FetchAll(ctx, s.feeds)
	for _, err := range errs {
		if s.metrics != nil {
			s.metrics.FeedRefreshes.WithLabelValues("error").Inc()
		}
		applog.Error("store refresh: feed fetch failed", err)
	}

	states := make(map[string]*feedState, len(results))
	for _, res := range results {
		events, err := ics.Parse(res.Feed, res.Body)
		if err != nil {
			if s.metrics != nil {
				s.metrics.FeedRefreshes.WithLabelValues("error").Inc()
			}
			continue
		}
		states[res.Feed.ID] = &feedState{feed: res.Feed, body: res.Body, events: events, overlay: res.FromOverlay}
		if res.FromCache {
			applog.Debug("store refresh: feed served from cache", "feed", res.Feed.ID)
		}
		if res.FromOverlay {
			applog.Info("store refresh: feed carries a local reschedule overlay", "feed", res.Feed.ID)
		}
		if s.metrics != nil {
			s.metrics.FeedRefreshes.WithLabelValues("ok").Inc()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byFeed = states
	s.rangeStart = rangeStart
	s.rangeEnd = rangeEnd
	if err := s.rebuildLocked(); err != nil {
		return err
	}
	s.refreshedAt = time.Now()
	applog.Info("store refreshed",
		"feeds", len(states),
		"occurrences", len(s.occurrences),
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
	)
	return nil
}

// rebuildLocked re-expands all parsed events into the current window.
// Callers hold s.mu.
func (s *Store) rebuildLocked() error {
	all := make([]ics.RawEvent, 0)
	for _, st := range s.byFeed {
		all = append(all, st.events...)
	}

	result, err := ics.Expand(all, ics.ExpandConfig{
		DisplayLocation: s.loc,
		RangeStart:      s.rangeStart,
		RangeEnd:        s.rangeEnd,
	})
	if err != nil {
		return fmt.Errorf("store: expand: %w", err)
	}

	occ := result.Occurrences
	sort.Slice(occ, func(i, j int) bool {
		if occ[i].Start.Equal(occ[j].Start) {
			return occ[i].UID < occ[j].UID
		}
		return occ[i].Start.Before(occ[j].Start)
	})
	s.occurrences = occ
	s.truncated = result.TruncatedUIDs
	return nil
}

// Snapshot returns the current occurrence list together with the window
// it covers and when it was built.
func (s *Store) Snapshot() (occ []model.Occurrence, rangeStart, rangeEnd, refreshedAt time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Occurrence, len(s.occurrences))
	copy(out, s.occurrences)
	return out, s.rangeStart, s.rangeEnd, s.refreshedAt
}

// TruncatedUIDs lists events that hit the expansion cap on the last build.
func (s *Store) TruncatedUIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.truncated...)
}

// OverlayFeeds lists the feeds currently served from a local reschedule
// overlay rather than pristine upstream content.
func (s *Store) OverlayFeeds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, st := range s.byFeed {
		if st.overlay {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Find looks up one occurrence by UID and instance key.
func (s *Store) Find(uid, instanceKey string) (model.Occurrence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.occurrences {
		if o.UID == uid && o.InstanceKey == instanceKey {
			return o, true
		}
	}
	return model.Occurrence{}, false
}

// Reschedule applies a committed drag to the occurrence's feed: the feed
// body is rewritten via the ICS applier, persisted as an overlay, and
// the in-memory view is rebuilt. series chooses whole-series vs
// single-occurrence semantics.
func (s *Store) Reschedule(uid, instanceKey string, newStart, newEnd time.Time, series bool) (model.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *model.Occurrence
	for i := range s.occurrences {
		if s.occurrences[i].UID == uid && s.occurrences[i].InstanceKey == instanceKey {
			target = &s.occurrences[i]
			break
		}
	}
	if target == nil {
		return model.Occurrence{}, ErrNotFound
	}

	st, ok := s.byFeed[target.SourceID]
	if !ok {
		return model.Occurrence{}, fmt.Errorf("store: unknown feed %q", target.SourceID)
	}

	newBody, err := ics.ApplyReschedule(st.body, ics.Reschedule{
		UID:             uid,
		OccurrenceStart: target.Start,
		NewStart:        newStart,
		NewEnd:          newEnd,
		Series:          series,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RescheduleErrors.Inc()
		}
		return model.Occurrence{}, err
	}

	if err := s.fetcher.SaveOverlay(st.feed.URL, newBody); err != nil {
		// The in-memory move still proceeds; the overlay is only the
		// durable copy.
		applog.Error("store: overlay save failed", err, "feed", st.feed.ID)
	}

	events, err := ics.Parse(st.feed, newBody)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RescheduleErrors.Inc()
		}
		return model.Occurrence{}, fmt.Errorf("store: reparse after reschedule: %w", err)
	}
	st.body = newBody
	st.events = events
	st.overlay = true

	if err := s.rebuildLocked(); err != nil {
		return model.Occurrence{}, err
	}

	if s.metrics != nil {
		scope := "occurrence"
		if series {
			scope = "series"
		}
		s.metrics.ReschedulesApplied.WithLabelValues(scope).Inc()
	}

	// The moved instance keys off its new local start.
	newKey := newStart.In(s.loc).Format(time.RFC3339Nano)
	for _, o := range s.occurrences {
		if o.UID == uid && o.InstanceKey == newKey {
			return o, nil
		}
	}
	// The new time may fall outside the current window; synthesize the
	// caller-visible view from what was committed.
	moved := *target
	moved.Start = newStart.In(s.loc)
	moved.End = newEnd.In(s.loc)
	moved.InstanceKey = newKey
	return moved, nil
}
