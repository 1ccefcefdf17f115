package store_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dragcal/internal/ics"
	"dragcal/internal/store"
)

// feedServer serves a mutable ICS body with an ETag, like a calendar
// provider would.
type feedServer struct {
	mu   sync.Mutex
	body string
	etag string
}

func (f *feedServer) set(body, etag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body = body
	f.etag = etag
}

func (f *feedServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("ETag", f.etag)
	w.Header().Set("Content-Type", "text/calendar")
	_, _ = w.Write([]byte(f.body))
}

// weeklyICS builds a weekly event anchored near now so it lands inside
// the store's refresh window regardless of when the test runs.
func weeklyICS() string {
	start := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Hour)
	end := start.Add(time.Hour)
	const layout = "20060102T150405Z"
	return "BEGIN:VCALENDAR\n" +
		"VERSION:2.0\n" +
		"PRODID:-//dragcal//test//EN\n" +
		"BEGIN:VEVENT\n" +
		"UID:retro@example.com\n" +
		"DTSTAMP:" + start.Format(layout) + "\n" +
		"DTSTART:" + start.Format(layout) + "\n" +
		"DTEND:" + end.Format(layout) + "\n" +
		"SUMMARY:Retro\n" +
		"RRULE:FREQ=WEEKLY;COUNT=52\n" +
		"END:VEVENT\n" +
		"END:VCALENDAR\n"
}

func newTestStore(t *testing.T) (*store.Store, *feedServer) {
	t.Helper()

	fs := &feedServer{body: weeklyICS(), etag: `"v1"`}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	fetcher := ics.NewFetcher(t.TempDir())
	feeds := []ics.Feed{{ID: "work", URL: srv.URL}}
	st := store.New(fetcher, feeds, time.UTC, 14, 1, nil)
	require.NoError(t, st.Refresh(context.Background()))
	return st, fs
}

func TestRefreshBuildsSnapshot(t *testing.T) {
	st, _ := newTestStore(t)

	occ, rangeStart, rangeEnd, refreshedAt := st.Snapshot()
	assert.NotEmpty(t, occ)
	assert.True(t, rangeEnd.After(rangeStart))
	assert.False(t, refreshedAt.IsZero())

	for _, o := range occ {
		assert.Equal(t, "retro@example.com", o.UID)
		assert.Equal(t, "work", o.SourceID)
		assert.Equal(t, time.Hour, o.End.Sub(o.Start))
	}
}

func TestFindByInstanceKey(t *testing.T) {
	st, _ := newTestStore(t)
	occ, _, _, _ := st.Snapshot()
	require.NotEmpty(t, occ)

	got, ok := st.Find(occ[0].UID, occ[0].InstanceKey)
	require.True(t, ok)
	assert.True(t, got.Start.Equal(occ[0].Start))

	_, ok = st.Find("retro@example.com", "not-a-key")
	assert.False(t, ok)
}

func TestRescheduleOccurrence(t *testing.T) {
	st, _ := newTestStore(t)
	occ, _, _, _ := st.Snapshot()
	require.NotEmpty(t, occ)
	target := occ[0]

	newStart := target.Start.Add(24 * time.Hour)
	newEnd := target.End.Add(24 * time.Hour)

	moved, err := st.Reschedule(target.UID, target.InstanceKey, newStart, newEnd, false)
	require.NoError(t, err)
	assert.True(t, moved.Start.Equal(newStart))
	assert.True(t, moved.End.Equal(newEnd))

	// The old instance key is gone, the new one resolves.
	_, ok := st.Find(target.UID, target.InstanceKey)
	assert.False(t, ok)
	_, ok = st.Find(moved.UID, moved.InstanceKey)
	assert.True(t, ok)
}

func TestRescheduleSeriesShiftsAllInstances(t *testing.T) {
	st, _ := newTestStore(t)
	occ, _, _, _ := st.Snapshot()
	require.NotEmpty(t, occ)
	target := occ[0]

	newStart := target.Start.Add(2 * time.Hour)
	newEnd := target.End.Add(2 * time.Hour)

	_, err := st.Reschedule(target.UID, target.InstanceKey, newStart, newEnd, true)
	require.NoError(t, err)

	shifted, _, _, _ := st.Snapshot()
	require.NotEmpty(t, shifted)
	for _, o := range shifted {
		assert.Equal(t, newStart.Hour(), o.Start.Hour(), "every instance moved")
	}
}

func TestRescheduleSurvivesRefreshViaOverlay(t *testing.T) {
	st, _ := newTestStore(t)
	occ, _, _, _ := st.Snapshot()
	require.NotEmpty(t, occ)
	target := occ[0]

	newStart := target.Start.Add(24 * time.Hour)
	moved, err := st.Reschedule(target.UID, target.InstanceKey, newStart, target.End.Add(24*time.Hour), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"work"}, st.OverlayFeeds())

	// Upstream content unchanged: the overlay keeps the local move.
	require.NoError(t, st.Refresh(context.Background()))
	_, ok := st.Find(moved.UID, moved.InstanceKey)
	assert.True(t, ok, "local reschedule survives a refresh")
	assert.Equal(t, []string{"work"}, st.OverlayFeeds(), "overlay still in effect after refresh")
}

func TestUpstreamChangeDropsOverlay(t *testing.T) {
	st, fs := newTestStore(t)
	occ, _, _, _ := st.Snapshot()
	require.NotEmpty(t, occ)
	target := occ[0]

	moved, err := st.Reschedule(target.UID, target.InstanceKey,
		target.Start.Add(24*time.Hour), target.End.Add(24*time.Hour), false)
	require.NoError(t, err)

	// Upstream publishes a new revision: remote wins, overlay is stale.
	fs.set(weeklyICS(), `"v2"`)
	require.NoError(t, st.Refresh(context.Background()))

	_, ok := st.Find(moved.UID, moved.InstanceKey)
	assert.False(t, ok, "stale overlay is discarded when upstream changes")
	_, ok = st.Find(target.UID, target.InstanceKey)
	assert.True(t, ok, "upstream instance is back")
	assert.Empty(t, st.OverlayFeeds())
}

func TestRescheduleUnknownOccurrence(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.Reschedule("ghost@example.com", "nope", time.Now(), time.Now().Add(time.Hour), false)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
