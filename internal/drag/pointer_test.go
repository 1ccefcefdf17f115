package drag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dragcal/internal/drag"
	"dragcal/internal/geom"
)

func TestFromMouse(t *testing.T) {
	p, ok := drag.FromMouse(drag.MouseEvent{Type: "mousedown", Button: 0, X: 5, Y: 7})
	require.True(t, ok)
	assert.Equal(t, drag.PhaseStart, p.Phase)
	assert.Equal(t, geom.Point{X: 5, Y: 7}, p.Point())

	p, ok = drag.FromMouse(drag.MouseEvent{Type: "mousemove", X: 9, Y: 3})
	require.True(t, ok)
	assert.Equal(t, drag.PhaseMove, p.Phase)

	p, ok = drag.FromMouse(drag.MouseEvent{Type: "mouseup", X: 1, Y: 1})
	require.True(t, ok)
	assert.Equal(t, drag.PhaseEnd, p.Phase)
}

func TestFromMouseNonPrimaryButtonCannotStart(t *testing.T) {
	_, ok := drag.FromMouse(drag.MouseEvent{Type: "mousedown", Button: 2})
	assert.False(t, ok)
}

func TestFromMouseUnknownType(t *testing.T) {
	_, ok := drag.FromMouse(drag.MouseEvent{Type: "wheel"})
	assert.False(t, ok)
}

func TestFromTouch(t *testing.T) {
	one := []geom.Point{{X: 4, Y: 8}}

	p, ok := drag.FromTouch(drag.TouchEvent{Type: "touchstart", Touches: one})
	require.True(t, ok)
	assert.Equal(t, drag.PhaseStart, p.Phase)
	assert.Equal(t, geom.Point{X: 4, Y: 8}, p.Point())

	p, ok = drag.FromTouch(drag.TouchEvent{Type: "touchmove", Touches: one})
	require.True(t, ok)
	assert.Equal(t, drag.PhaseMove, p.Phase)

	p, ok = drag.FromTouch(drag.TouchEvent{Type: "touchend"})
	require.True(t, ok)
	assert.Equal(t, drag.PhaseEnd, p.Phase)

	p, ok = drag.FromTouch(drag.TouchEvent{Type: "touchcancel"})
	require.True(t, ok)
	assert.Equal(t, drag.PhaseCancel, p.Phase)
}

func TestFromTouchMultiFingerStartIgnored(t *testing.T) {
	_, ok := drag.FromTouch(drag.TouchEvent{
		Type:    "touchstart",
		Touches: []geom.Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
	})
	assert.False(t, ok)
}
