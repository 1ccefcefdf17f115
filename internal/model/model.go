package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidRange reports an event whose end does not come after its start.
var ErrInvalidRange = errors.New("event end must be after start")

// TemporalEvent is the entity being dragged: one start/end pair.
// The drag engine only ever reads it at session start; candidates are
// derived copies and the original is never mutated.
type TemporalEvent struct {
	Start time.Time
	End   time.Time
}

// NewTemporalEvent validates and builds a TemporalEvent from any two
// instant-like values (see CoerceInstant). Invalid or inverted inputs are
// rejected here so the engine never sees a malformed pair.
func NewTemporalEvent(start, end any) (*TemporalEvent, error) {
	s, err := CoerceInstant(start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	e, err := CoerceInstant(end)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	if !e.After(s) {
		return nil, ErrInvalidRange
	}
	return &TemporalEvent{Start: s, End: e}, nil
}

// Duration returns the event's exact elapsed length.
func (ev *TemporalEvent) Duration() time.Duration {
	return ev.End.Sub(ev.Start)
}

// Occurrence is a single concrete instance of a calendar event after
// recurrence expansion, normalized into the display timezone.
type Occurrence struct {
	SourceID string // feed ID (e.g. config ICS ID)
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies one occurrence of a recurring event,
	// derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}

// Event returns the occurrence's start/end as a TemporalEvent, the shape
// the drag engine anchors to.
func (o Occurrence) Event() TemporalEvent {
	return TemporalEvent{Start: o.Start, End: o.End}
}

// CoerceInstant converts a date-like value into a time.Time. Accepted
// forms mirror what calendar clients hand us:
//
//   - time.Time (and *time.Time)
//   - RFC 3339 strings, with or without sub-second precision
//   - epoch milliseconds or seconds as int64 / float64 / int
//
// Anything else, a zero time, or a non-finite number is an error.
func CoerceInstant(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, errors.New("zero time")
		}
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, errors.New("nil time")
		}
		return CoerceInstant(*t)
	case string:
		if t == "" {
			return time.Time{}, errors.New("empty time string")
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %q: %w", t, err)
		}
		return parsed, nil
	case int64:
		return epochToTime(float64(t))
	case int:
		return epochToTime(float64(t))
	case float64:
		return epochToTime(t)
	default:
		return time.Time{}, fmt.Errorf("unsupported instant type %T", v)
	}
}

// epochToTime interprets n as epoch milliseconds when it is large enough
// to be one, otherwise as epoch seconds.
func epochToTime(n float64) (time.Time, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}, errors.New("non-finite epoch value")
	}
	if n <= 0 {
		return time.Time{}, errors.New("non-positive epoch value")
	}
	// Epoch seconds stay under 12 digits for the foreseeable future;
	// treat anything >= 1e12 as milliseconds.
	if n >= 1e12 {
		return time.UnixMilli(int64(n)).UTC(), nil
	}
	return time.Unix(int64(n), 0).UTC(), nil
}
