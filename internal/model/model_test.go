package model_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dragcal/internal/model"
)

func TestNewTemporalEventFromMixedInputs(t *testing.T) {
	start := time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		start, end any
	}{
		{"native times", start, start.Add(time.Hour)},
		{"rfc3339 strings", "2024-06-10T09:00:00Z", "2024-06-10T10:00:00Z"},
		{"epoch millis", start.UnixMilli(), start.Add(time.Hour).UnixMilli()},
		{"epoch seconds", start.Unix(), start.Add(time.Hour).Unix()},
		{"float millis", float64(start.UnixMilli()), float64(start.Add(time.Hour).UnixMilli())},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := model.NewTemporalEvent(tc.start, tc.end)
			require.NoError(t, err)
			assert.True(t, ev.Start.Equal(start), "start = %v", ev.Start)
			assert.Equal(t, time.Hour, ev.Duration())
		})
	}
}

func TestNewTemporalEventRejectsInvalidInputs(t *testing.T) {
	valid := "2024-06-10T09:00:00Z"

	cases := []struct {
		name       string
		start, end any
	}{
		{"end before start", "2024-06-10T10:00:00Z", valid},
		{"end equals start", valid, valid},
		{"garbage string", "yesterday-ish", valid},
		{"empty string", "", valid},
		{"zero time", time.Time{}, valid},
		{"nan epoch", math.NaN(), valid},
		{"negative epoch", -5, valid},
		{"unsupported type", []byte("2024"), valid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := model.NewTemporalEvent(tc.start, tc.end)
			assert.Error(t, err)
		})
	}
}

func TestCoerceInstantPointer(t *testing.T) {
	now := time.Now()
	got, err := model.CoerceInstant(&now)
	require.NoError(t, err)
	assert.True(t, got.Equal(now))

	var nilT *time.Time
	_, err = model.CoerceInstant(nilT)
	assert.Error(t, err)
}

func TestOccurrenceEvent(t *testing.T) {
	o := model.Occurrence{
		Start: time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, time.June, 10, 10, 0, 0, 0, time.UTC),
	}
	ev := o.Event()
	assert.Equal(t, o.Start, ev.Start)
	assert.Equal(t, o.End, ev.End)
}
