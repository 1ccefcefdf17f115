package snap

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"dragcal/internal/geom"
)

// Attr is the marker attribute drop-zone elements carry. Its value is a
// YYYY-MM-DD string naming the calendar day the zone represents.
const Attr = "data-calendar-date"

// Date is a calendar day with no time-of-day component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Apply returns t with its year/month/day replaced by the date, keeping
// the time-of-day and location untouched.
func (d Date) Apply(t time.Time) time.Time {
	return time.Date(d.Year, d.Month, d.Day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ParseDate parses a strict YYYY-MM-DD value. Anything that does not
// split into three valid integers naming a real calendar day fails.
func ParseDate(s string) (Date, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return Date{}, fmt.Errorf("malformed date %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, fmt.Errorf("malformed date %q: %w", s, err)
		}
		nums[i] = n
	}
	d := Date{Year: nums[0], Month: time.Month(nums[1]), Day: nums[2]}
	// time.Date normalizes out-of-range fields; a round trip catches
	// values like month 13 or day 32.
	check := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	if check.Year() != d.Year || check.Month() != d.Month || check.Day() != d.Day {
		return Date{}, fmt.Errorf("invalid calendar day %q", s)
	}
	return d, nil
}

// Resolver locates the drop-zone under a viewport coordinate, if any.
// Implementations must be side-effect-free and cheap enough to call on
// every pointer move.
type Resolver interface {
	Resolve(p geom.Point) (Date, bool)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(p geom.Point) (Date, bool)

func (f ResolverFunc) Resolve(p geom.Point) (Date, bool) { return f(p) }

// None is a Resolver that never finds a drop-zone.
var None Resolver = ResolverFunc(func(geom.Point) (Date, bool) { return Date{}, false })

// zone pairs a registered rectangle with its decoded day.
type zone struct {
	rect geom.Rect
	date Date
}

// GridIndex is a Resolver over a set of registered drop-zone rectangles.
// It stands in for live DOM traversal in non-DOM hosts: the renderer
// reports each day cell's rectangle once per layout, and hit-testing
// becomes a scan over those rectangles. When rectangles nest, the
// smallest containing one wins (the nearest-ancestor rule), with the
// most recently registered breaking ties.
type GridIndex struct {
	mu    sync.RWMutex
	zones []zone
}

// NewGridIndex returns an empty index.
func NewGridIndex() *GridIndex {
	return &GridIndex{}
}

// Register adds a drop-zone rectangle for the given encoded date value.
// A malformed value is reported as an error and registers nothing.
func (g *GridIndex) Register(r geom.Rect, encoded string) error {
	d, err := ParseDate(encoded)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.zones = append(g.zones, zone{rect: r, date: d})
	g.mu.Unlock()
	return nil
}

// Reset drops all registered zones, typically after the host re-renders
// its layout.
func (g *GridIndex) Reset() {
	g.mu.Lock()
	g.zones = nil
	g.mu.Unlock()
}

// Len reports the number of registered zones.
func (g *GridIndex) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.zones)
}

// Resolve implements Resolver.
func (g *GridIndex) Resolve(p geom.Point) (Date, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	best := -1
	var bestArea float64
	for i, z := range g.zones {
		if !z.rect.Contains(p) {
			continue
		}
		area := z.rect.Area()
		if best == -1 || area < bestArea || (area == bestArea && i > best) {
			best = i
			bestArea = area
		}
	}
	if best == -1 {
		return Date{}, false
	}
	return g.zones[best].date, true
}
