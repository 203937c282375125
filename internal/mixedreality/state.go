package mixedreality

// Advance applies an observed tracker state to a mirror's current state.
// The mirror follows the tracker whenever the two differ, and each change
// is reported exactly once. Stopped is not special-cased: a tracker that
// reports Tracking after Stopped is followed like any other change.
// Unknown observed values are ignored.
func Advance(current, observed TrackingState) (next TrackingState, transitioned bool) {
	if !observed.Valid() || observed == current {
		return current, false
	}
	return observed, true
}
