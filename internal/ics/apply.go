package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	applog "dragcal/internal/log"
)

const icsUTCLayout = "20060102T150405Z"

// Reschedule describes one committed drag applied back to a calendar.
type Reschedule struct {
	UID string

	// OccurrenceStart is the original start of the dragged instance,
	// used to address one instance of a recurring event and to compute
	// the series shift delta.
	OccurrenceStart time.Time

	NewStart time.Time
	NewEnd   time.Time

	// Series applies the move to the whole recurring series (DTSTART
	// shift, RRULE preserved) instead of just this occurrence.
	Series bool
}

// ApplyReschedule rewrites an ICS payload with the given reschedule and
// returns the serialized result.
//
//   - Non-recurring event: DTSTART/DTEND are rewritten in place.
//   - Recurring, single occurrence: a RECURRENCE-ID override VEVENT is
//     added (or an existing one updated) carrying the new pair.
//   - Recurring, whole series: the base DTSTART/DTEND shift by the drag
//     delta; existing overrides and their RECURRENCE-IDs shift with it.
//
// The event's SEQUENCE is bumped in every case.
func ApplyReschedule(body []byte, r Reschedule) ([]byte, error) {
	if r.UID == "" {
		return nil, errors.New("apply: UID is empty")
	}
	if !r.NewEnd.After(r.NewStart) {
		return nil, errors.New("apply: new end must be after new start")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("apply: parse calendar: %w", err)
	}

	base, overrides := splitByUID(cal, r.UID)
	if base == nil {
		return nil, fmt.Errorf("apply: no event with UID %q", r.UID)
	}
	recurring := base.GetProperty(ical.ComponentPropertyRrule) != nil

	switch {
	case r.Series && recurring:
		applySeriesShift(base, overrides, r)
	case recurring:
		applyOccurrenceOverride(cal, base, overrides, r)
	default:
		// Plain event: the occurrence is the series.
		base.SetStartAt(r.NewStart)
		base.SetEndAt(r.NewEnd)
		bumpSequence(base)
	}

	applog.Info("reschedule applied",
		"uid", r.UID,
		"series", r.Series,
		"new_start", r.NewStart.Format(time.RFC3339),
		"new_end", r.NewEnd.Format(time.RFC3339),
	)
	return []byte(cal.Serialize()), nil
}

// splitByUID returns the base VEVENT for uid plus any RECURRENCE-ID
// overrides belonging to it.
func splitByUID(cal *ical.Calendar, uid string) (base *ical.VEvent, overrides []*ical.VEvent) {
	for _, ve := range cal.Events() {
		p := ve.GetProperty(ical.ComponentPropertyUniqueId)
		if p == nil || p.Value != uid {
			continue
		}
		if ve.GetProperty("RECURRENCE-ID") != nil {
			overrides = append(overrides, ve)
			continue
		}
		base = ve
	}
	return base, overrides
}

func applySeriesShift(base *ical.VEvent, overrides []*ical.VEvent, r Reschedule) {
	delta := r.NewStart.Sub(r.OccurrenceStart)

	if start, err := base.GetStartAt(); err == nil {
		base.SetStartAt(start.Add(delta))
	}
	if end, err := base.GetEndAt(); err == nil {
		base.SetEndAt(end.Add(delta))
	}
	bumpSequence(base)

	// Overrides must track the shifted instance times or they detach
	// from the series.
	for _, ov := range overrides {
		if start, err := ov.GetStartAt(); err == nil {
			ov.SetStartAt(start.Add(delta))
		}
		if end, err := ov.GetEndAt(); err == nil {
			ov.SetEndAt(end.Add(delta))
		}
		if rid := ov.GetProperty("RECURRENCE-ID"); rid != nil {
			if t, err := parseICSTime(rid.Value); err == nil {
				ov.SetProperty("RECURRENCE-ID", t.Add(delta).UTC().Format(icsUTCLayout))
			}
		}
		bumpSequence(ov)
	}
}

func applyOccurrenceOverride(cal *ical.Calendar, base *ical.VEvent, overrides []*ical.VEvent, r Reschedule) {
	// Update an existing override for this instance when there is one.
	for _, ov := range overrides {
		rid := ov.GetProperty("RECURRENCE-ID")
		if rid == nil {
			continue
		}
		t, err := parseICSTime(rid.Value)
		if err != nil || !t.Equal(r.OccurrenceStart) {
			continue
		}
		ov.SetStartAt(r.NewStart)
		ov.SetEndAt(r.NewEnd)
		bumpSequence(ov)
		return
	}

	// Otherwise mint a fresh override VEVENT for the instance.
	ov := ical.NewEvent(r.UID)
	ov.SetProperty("RECURRENCE-ID", r.OccurrenceStart.UTC().Format(icsUTCLayout))
	ov.SetStartAt(r.NewStart)
	ov.SetEndAt(r.NewEnd)
	ov.SetDtStampTime(time.Now().UTC())
	if p := base.GetProperty(ical.ComponentPropertySummary); p != nil {
		ov.SetSummary(p.Value)
	}
	if p := base.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ov.SetLocation(p.Value)
	}
	ov.SetProperty(ical.ComponentPropertySequence, strconv.Itoa(sequenceOf(base)+1))
	cal.AddVEvent(ov)
}

func sequenceOf(ve *ical.VEvent) int {
	p := ve.GetProperty(ical.ComponentPropertySequence)
	if p == nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(p.Value))
	if err != nil {
		return 0
	}
	return n
}

func bumpSequence(ve *ical.VEvent) {
	ve.SetProperty(ical.ComponentPropertySequence, strconv.Itoa(sequenceOf(ve)+1))
}
