package drag

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"dragcal/internal/geom"
	applog "dragcal/internal/log"
	"dragcal/internal/model"
	"dragcal/internal/snap"
)

// Default pixel-to-time scales: 40px of vertical travel moves the event
// one day, 1px of horizontal travel moves it one minute.
const (
	DefaultPxPerDay    = 40.0
	DefaultPxPerMinute = 1.0
)

// ErrRebindWhileDragging reports a Rebind attempted mid-gesture. The
// source event is fixed for the lifetime of a session.
var ErrRebindWhileDragging = errors.New("cannot rebind engine while a drag is active")

// CommitFunc receives the final start/end pair when a gesture completes.
type CommitFunc func(newStart, newEnd time.Time)

// FeedbackFunc is invoked with true when a session starts and false when
// it ends, on every exit path. Hosts use it for visual drag feedback
// (e.g. a grabbing cursor) without the engine touching any global state.
type FeedbackFunc func(dragging bool)

// Options configures an Engine.
type Options struct {
	// LockTime restricts the drag to date changes only: horizontal
	// motion has no temporal effect.
	LockTime bool

	// PxPerDay is the vertical distance mapping to one whole day.
	// Zero or negative means DefaultPxPerDay.
	PxPerDay float64

	// PxPerMinute is the horizontal distance mapping to one minute.
	// Zero or negative means DefaultPxPerMinute.
	PxPerMinute float64

	// Resolver locates the drop-zone under the pointer. Nil means no
	// snapping; day offsets then come from vertical travel alone.
	Resolver snap.Resolver

	// Feedback, if non-nil, is invoked on session start and end.
	Feedback FeedbackFunc
}

func (o *Options) normalize() {
	if o.PxPerDay <= 0 {
		o.PxPerDay = DefaultPxPerDay
	}
	if o.PxPerMinute <= 0 {
		o.PxPerMinute = DefaultPxPerMinute
	}
	if o.Resolver == nil {
		o.Resolver = snap.None
	}
}

// Engine is the drag-to-reschedule state machine. It owns one gesture at
// a time: pointer-down anchors the session, every move recomputes a
// candidate start/end pair from the original snapshot plus the current
// deltas, and release reports the final pair through the commit callback
// exactly once. A cancelled gesture resets through the same cleanup path
// but never commits.
//
// Moves are pure functions of (snapshot, current position), so replaying
// the same coordinates yields the same preview and nothing drifts across
// moves.
type Engine struct {
	mu     sync.Mutex
	opts   Options
	commit CommitFunc
	event  *model.TemporalEvent

	// Session state. The fields below are populated together on
	// pointer-down and cleared together on release or cancel, never
	// partially.
	active    bool
	sessionID uuid.UUID
	anchor    geom.Point
	origStart time.Time
	origEnd   time.Time

	prevStart *time.Time
	prevEnd   *time.Time
}

// New builds an engine for the given source event. A nil event leaves
// the engine inert: no gesture can start until Rebind supplies one.
func New(ev *model.TemporalEvent, commit CommitFunc, opts Options) *Engine {
	opts.normalize()
	return &Engine{
		opts:   opts,
		commit: commit,
		event:  ev,
	}
}

// Rebind points the engine at a new source event and clears any leftover
// preview from a prior session. Rebinding mid-gesture is not a supported
// transition.
func (e *Engine) Rebind(ev *model.TemporalEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return ErrRebindWhileDragging
	}
	e.event = ev
	e.prevStart = nil
	e.prevEnd = nil
	return nil
}

// IsDragging reports whether a gesture is in progress.
func (e *Engine) IsDragging() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Preview returns the current candidate pair. ok is false when no drag
// is in progress or no move has produced a candidate yet.
func (e *Engine) Preview() (start, end time.Time, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prevStart == nil || e.prevEnd == nil {
		return time.Time{}, time.Time{}, false
	}
	return *e.prevStart, *e.prevEnd, true
}

// Attach binds the engine to a pointer source and returns a release
// function. Release detaches the subscription, discards any in-progress
// session without committing, and is safe to call more than once.
func (e *Engine) Attach(src Source) (release func()) {
	unsubscribe := src.Subscribe(e.Handle)
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			e.abort()
		})
	}
}

// Handle feeds one pointer event through the state machine.
func (e *Engine) Handle(p Pointer) {
	switch p.Phase {
	case PhaseStart:
		e.start(p)
	case PhaseMove:
		e.move(p)
	case PhaseEnd:
		e.finish(true)
	case PhaseCancel:
		e.finish(false)
	}
}

func (e *Engine) start(p Pointer) {
	e.mu.Lock()
	// Reentrancy guard: a second pointer-down while a session is live is
	// ignored rather than re-anchoring the gesture.
	if e.active || e.event == nil {
		e.mu.Unlock()
		return
	}
	e.active = true
	e.sessionID = uuid.New()
	e.anchor = p.Point()
	e.origStart = e.event.Start
	e.origEnd = e.event.End
	feedback := e.opts.Feedback
	id := e.sessionID
	e.mu.Unlock()

	applog.Debug("drag session started",
		"session", id.String(), "anchor_x", p.X, "anchor_y", p.Y)
	if feedback != nil {
		feedback(true)
	}
}

func (e *Engine) move(p Pointer) {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	anchor := e.anchor
	origStart, origEnd := e.origStart, e.origEnd
	opts := e.opts
	e.mu.Unlock()

	dx := p.X - anchor.X
	dy := p.Y - anchor.Y

	// Whole-day and whole-minute steps, rounded half away from zero so
	// small jitters collapse to no offset at all.
	dayOffset := int(math.Round(dy / opts.PxPerDay))

	start := origStart
	if !opts.LockTime {
		minuteOffset := int(math.Round(dx / opts.PxPerMinute))
		start = start.Add(time.Duration(minuteOffset) * time.Minute)
	}

	// A drop-zone under the pointer pins the calendar day outright;
	// vertical travel only matters when nothing is hovered.
	if d, ok := opts.Resolver.Resolve(p.Point()); ok {
		start = d.Apply(start)
	} else {
		start = start.AddDate(0, 0, dayOffset)
	}

	// End tracks start by the original elapsed duration, so month
	// lengths and other calendar irregularities cannot change it.
	end := start.Add(origEnd.Sub(origStart))

	e.mu.Lock()
	if e.active {
		e.prevStart = &start
		e.prevEnd = &end
	}
	e.mu.Unlock()
}

// finish ends the session. commitOK distinguishes a release (which may
// commit) from a cancel (which never does); the cleanup is identical.
func (e *Engine) finish(commitOK bool) {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	id := e.sessionID
	start, end := e.prevStart, e.prevEnd
	commit := e.commit
	feedback := e.opts.Feedback
	e.reset()
	e.mu.Unlock()

	if feedback != nil {
		feedback(false)
	}

	if commitOK && commit != nil && start != nil && end != nil {
		applog.Debug("drag session committed",
			"session", id.String(),
			"new_start", start.Format(time.RFC3339),
			"new_end", end.Format(time.RFC3339))
		commit(*start, *end)
		return
	}
	applog.Debug("drag session discarded", "session", id.String(), "cancelled", !commitOK)
}

// abort discards any active session without committing, for teardown.
func (e *Engine) abort() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	feedback := e.opts.Feedback
	e.reset()
	e.mu.Unlock()
	if feedback != nil {
		feedback(false)
	}
}

// reset clears all session state. Callers hold e.mu.
func (e *Engine) reset() {
	e.active = false
	e.sessionID = uuid.Nil
	e.anchor = geom.Point{}
	e.origStart = time.Time{}
	e.origEnd = time.Time{}
	e.prevStart = nil
	e.prevEnd = nil
}
