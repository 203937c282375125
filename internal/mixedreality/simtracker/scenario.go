package simtracker

import (
	"math"

	"github.com/banshee-data/mrsync/internal/mixedreality/pose"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
)

// Square returns a square x,z polygon of the given half size.
func Square(half float64) []float64 {
	return []float64{-half, -half, half, -half, half, half, -half, half}
}

// Demo scripts a small room: a floor that grows by absorbing a second
// patch, a wall that loses and regains tracking, a poster image, and a
// dimming light. It runs for about 60 frames.
func Demo(t *Tracker) {
	var floor, patch, wall *Plane
	var poster *Image

	wallPose := pose.FromRotationTranslation(pose.AxisAngle(0, 1, 0, math.Pi/2), 2, 1.2, 0)

	t.Script(
		Step{Frame: 1, Apply: func(t *Tracker) {
			t.SetLightEstimate(0.8, true)
			floor = t.AddPlane("floor", tracker.HorizontalUpwardFacing, pose.FromTranslation(0, 0, -1), Square(1))
		}},
		Step{Frame: 4, Apply: func(t *Tracker) {
			wall = t.AddPlane("wall", tracker.Vertical, wallPose, Square(0.75))
		}},
		Step{Frame: 6, Apply: func(t *Tracker) {
			patch = t.AddPlane("floor-patch", tracker.HorizontalUpwardFacing, pose.FromTranslation(1.5, 0, -1.2), Square(0.4))
		}},
		Step{Frame: 10, Apply: func(t *Tracker) {
			poster = t.AddImage("poster", 0, "poster.png", wallPose.Mul(pose.FromTranslation(0, 0.3, 0)), 0.6, 0.9)
			floor.SetPolygon([]float64{-1, -1.5, 2, -1.5, 2, 1, -1, 1})
		}},
		Step{Frame: 12, Apply: func(t *Tracker) {
			patch.SubsumeInto(floor)
		}},
		Step{Frame: 20, Apply: func(t *Tracker) {
			wall.SetState(tracker.Paused)
			poster.SetState(tracker.Paused)
			t.SetLightEstimate(0.35, true)
		}},
		Step{Frame: 30, Apply: func(t *Tracker) {
			wall.SetState(tracker.Tracking)
			poster.SetState(tracker.Tracking)
		}},
		Step{Frame: 40, Apply: func(t *Tracker) {
			t.SetLightEstimate(0, false)
		}},
		Step{Frame: 50, Apply: func(t *Tracker) {
			patch.SetState(tracker.Stopped)
		}},
	)
}
