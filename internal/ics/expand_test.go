package ics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dragcal/internal/ics"
)

const dailyStandupICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//dragcal//test//EN
BEGIN:VEVENT
UID:standup@example.com
DTSTAMP:20240601T000000Z
DTSTART:20240610T090000Z
DTEND:20240610T093000Z
SUMMARY:Standup
RRULE:FREQ=DAILY;COUNT=5
END:VEVENT
END:VCALENDAR
`

const singleMeetingICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//dragcal//test//EN
BEGIN:VEVENT
UID:review@example.com
DTSTAMP:20240601T000000Z
DTSTART:20240610T140000Z
DTEND:20240610T150000Z
SUMMARY:Design review
LOCATION:Room 4
END:VEVENT
END:VCALENDAR
`

const exdateICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//dragcal//test//EN
BEGIN:VEVENT
UID:standup@example.com
DTSTAMP:20240601T000000Z
DTSTART:20240610T090000Z
DTEND:20240610T093000Z
SUMMARY:Standup
RRULE:FREQ=DAILY;COUNT=5
EXDATE:20240612T090000Z
END:VEVENT
END:VCALENDAR
`

var testFeed = ics.Feed{ID: "team", URL: "https://calendar.example.com/team.ics"}

func juneWindow() ics.ExpandConfig {
	return ics.ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC),
	}
}

func TestParseSingleEvent(t *testing.T) {
	events, err := ics.Parse(testFeed, []byte(singleMeetingICS))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "review@example.com", ev.UID)
	assert.Equal(t, "Design review", ev.Summary)
	assert.Equal(t, "Room 4", ev.Location)
	assert.False(t, ev.Recurring())
	assert.False(t, ev.AllDay)
	assert.Equal(t, time.Hour, ev.End.Sub(ev.Start))
}

func TestParseRecordsRecurrenceData(t *testing.T) {
	events, err := ics.Parse(testFeed, []byte(exdateICS))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.True(t, ev.Recurring())
	assert.Equal(t, "FREQ=DAILY;COUNT=5", ev.RawRRule)
	require.Len(t, ev.ExDates, 1)
	assert.Equal(t, 12, ev.ExDates[0].Day())
}

func TestParseRejectsEmptyBody(t *testing.T) {
	_, err := ics.Parse(testFeed, nil)
	assert.Error(t, err)
}

func TestExpandDailyRecurrence(t *testing.T) {
	events, err := ics.Parse(testFeed, []byte(dailyStandupICS))
	require.NoError(t, err)

	result, err := ics.Expand(events, juneWindow())
	require.NoError(t, err)
	require.Len(t, result.Occurrences, 5)

	for i, occ := range result.Occurrences {
		assert.Equal(t, "standup@example.com", occ.UID)
		assert.Equal(t, 10+i, occ.Start.Day())
		assert.Equal(t, 9, occ.Start.Hour())
		assert.Equal(t, 30*time.Minute, occ.End.Sub(occ.Start))
		assert.NotEmpty(t, occ.InstanceKey)
	}
}

func TestExpandHonorsExdate(t *testing.T) {
	events, err := ics.Parse(testFeed, []byte(exdateICS))
	require.NoError(t, err)

	result, err := ics.Expand(events, juneWindow())
	require.NoError(t, err)
	require.Len(t, result.Occurrences, 4)

	for _, occ := range result.Occurrences {
		assert.NotEqual(t, 12, occ.Start.Day(), "EXDATE instance must not appear")
	}
}

func TestExpandSingleEventOutsideWindow(t *testing.T) {
	events, err := ics.Parse(testFeed, []byte(singleMeetingICS))
	require.NoError(t, err)

	cfg := juneWindow()
	cfg.RangeStart = time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	cfg.RangeEnd = time.Date(2024, time.July, 31, 0, 0, 0, 0, time.UTC)

	result, err := ics.Expand(events, cfg)
	require.NoError(t, err)
	assert.Empty(t, result.Occurrences)
}

func TestExpandRejectsInvertedWindow(t *testing.T) {
	cfg := juneWindow()
	cfg.RangeStart, cfg.RangeEnd = cfg.RangeEnd, cfg.RangeStart
	_, err := ics.Expand(nil, cfg)
	assert.Error(t, err)
}
