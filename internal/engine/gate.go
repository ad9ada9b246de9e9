package engine

import "github.com/roach88/phasetrace/internal/moment"

// FindGate locates the start gate in a sorted timeline: the index of the
// first touch, and of the first "add a stroke" after it. ok is false when
// the gate never opens.
//
// The Scanner applies the same rule incrementally; FindGate serves
// consumers that need the cut point of a complete timeline.
func FindGate(moments []moment.Moment) (touch, open int, ok bool) {
	touch = -1
	for i, m := range moments {
		switch {
		case touch < 0 && m.Name == moment.UserTouchesScreen:
			touch = i
		case touch >= 0 && m.Name == moment.AddStroke:
			return touch, i, true
		}
	}
	return -1, -1, false
}
