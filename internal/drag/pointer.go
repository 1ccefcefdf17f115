package drag

import (
	"dragcal/internal/geom"
)

// Phase classifies a pointer event within a gesture.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseMove
	PhaseEnd
	PhaseCancel
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseMove:
		return "move"
	case PhaseEnd:
		return "end"
	case PhaseCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Pointer is the single internal event representation the engine
// consumes. Mouse and touch input are both reduced to this shape by the
// adapters below, so the state machine has exactly one code path per
// phase.
type Pointer struct {
	X, Y  float64
	Phase Phase
}

// Point returns the pointer's viewport coordinate.
func (p Pointer) Point() geom.Point {
	return geom.Point{X: p.X, Y: p.Y}
}

// MouseEvent is a raw mouse event as reported by a host UI.
type MouseEvent struct {
	Type   string // "mousedown", "mousemove", "mouseup"
	Button int    // 0 = primary
	X, Y   float64
}

// FromMouse translates a raw mouse event into a Pointer. Only the
// primary button may start a gesture; other buttons are ignored at
// press time. Returns false when the event does not map to a phase.
func FromMouse(ev MouseEvent) (Pointer, bool) {
	switch ev.Type {
	case "mousedown":
		if ev.Button != 0 {
			return Pointer{}, false
		}
		return Pointer{X: ev.X, Y: ev.Y, Phase: PhaseStart}, true
	case "mousemove":
		return Pointer{X: ev.X, Y: ev.Y, Phase: PhaseMove}, true
	case "mouseup":
		return Pointer{X: ev.X, Y: ev.Y, Phase: PhaseEnd}, true
	default:
		return Pointer{}, false
	}
}

// TouchEvent is a raw touch event as reported by a host UI.
type TouchEvent struct {
	Type    string // "touchstart", "touchmove", "touchend", "touchcancel"
	Touches []geom.Point
}

// FromTouch translates a raw touch event into a Pointer. Only a
// single-finger touchstart may begin a gesture; a multi-finger start is
// dropped so a stray second finger cannot hijack the session. End and
// cancel events carry no touch points, so they reuse a zero coordinate
// (the engine does not read coordinates on those phases).
func FromTouch(ev TouchEvent) (Pointer, bool) {
	switch ev.Type {
	case "touchstart":
		if len(ev.Touches) != 1 {
			return Pointer{}, false
		}
		t := ev.Touches[0]
		return Pointer{X: t.X, Y: t.Y, Phase: PhaseStart}, true
	case "touchmove":
		if len(ev.Touches) == 0 {
			return Pointer{}, false
		}
		t := ev.Touches[0]
		return Pointer{X: t.X, Y: t.Y, Phase: PhaseMove}, true
	case "touchend":
		return Pointer{Phase: PhaseEnd}, true
	case "touchcancel":
		return Pointer{Phase: PhaseCancel}, true
	default:
		return Pointer{}, false
	}
}

// Source is a stream of pointer events an engine can bind to, typically
// one draggable element's input feed.
type Source interface {
	// Subscribe registers fn for every pointer event and returns an
	// unsubscribe function.
	Subscribe(fn func(Pointer)) (unsubscribe func())
}
