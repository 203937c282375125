package reconcile

import (
	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/fanout"
)

// Event categories, as reported in ListenerError and recordings.
const (
	CategoryPlaneDetected     = "plane-detected"
	CategoryPlaneStateChanged = "plane-state-changed"
	CategoryPlaneMerged       = "plane-merged"
	CategoryAnchorState       = "anchor-state-changed"
	CategoryImageDetected     = "image-detected"
	CategoryImageStateChanged = "image-state-changed"
	CategoryCloudTaskComplete = "anchor-cloud-task-complete"
)

// Notifier holds one subscriber list per event category.
type Notifier struct {
	PlaneDetected *fanout.Fanout[mixedreality.PlaneDetectionListener]
	PlaneState    *fanout.Fanout[mixedreality.PlaneStateListener]
	PlaneMerged   *fanout.Fanout[mixedreality.PlaneMergeListener]
	AnchorState   *fanout.Fanout[mixedreality.AnchorEventsListener]
	ImageDetected *fanout.Fanout[mixedreality.AugmentedImageDetectionListener]
	ImageState    *fanout.Fanout[mixedreality.AugmentedImageStateListener]
}

// NewNotifier returns a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{
		PlaneDetected: fanout.New[mixedreality.PlaneDetectionListener](CategoryPlaneDetected),
		PlaneState:    fanout.New[mixedreality.PlaneStateListener](CategoryPlaneStateChanged),
		PlaneMerged:   fanout.New[mixedreality.PlaneMergeListener](CategoryPlaneMerged),
		AnchorState:   fanout.New[mixedreality.AnchorEventsListener](CategoryAnchorState),
		ImageDetected: fanout.New[mixedreality.AugmentedImageDetectionListener](CategoryImageDetected),
		ImageState:    fanout.New[mixedreality.AugmentedImageStateListener](CategoryImageStateChanged),
	}
}

// SubscribePlane registers l for every plane category.
func (n *Notifier) SubscribePlane(l mixedreality.PlaneEventsListener) {
	n.PlaneDetected.Subscribe(l)
	n.PlaneState.Subscribe(l)
	n.PlaneMerged.Subscribe(l)
}

// UnsubscribePlane removes l from every plane category.
func (n *Notifier) UnsubscribePlane(l mixedreality.PlaneEventsListener) {
	n.PlaneDetected.Unsubscribe(l)
	n.PlaneState.Unsubscribe(l)
	n.PlaneMerged.Unsubscribe(l)
}

func (n *Notifier) SubscribeAnchor(l mixedreality.AnchorEventsListener) {
	n.AnchorState.Subscribe(l)
}

func (n *Notifier) UnsubscribeAnchor(l mixedreality.AnchorEventsListener) {
	n.AnchorState.Unsubscribe(l)
}

// SubscribeImage registers l for both image categories.
func (n *Notifier) SubscribeImage(l mixedreality.AugmentedImageEventsListener) {
	n.ImageDetected.Subscribe(l)
	n.ImageState.Subscribe(l)
}

func (n *Notifier) UnsubscribeImage(l mixedreality.AugmentedImageEventsListener) {
	n.ImageDetected.Unsubscribe(l)
	n.ImageState.Unsubscribe(l)
}

// HasPlaneListeners reports whether any plane category has a subscriber.
// Without one the plane pass is not worth running.
func (n *Notifier) HasPlaneListeners() bool {
	return !n.PlaneDetected.Empty() || !n.PlaneState.Empty() || !n.PlaneMerged.Empty()
}

// Failures returns the number of listener panics recovered across all
// categories.
func (n *Notifier) Failures() int64 {
	return n.PlaneDetected.Failures() + n.PlaneState.Failures() + n.PlaneMerged.Failures() +
		n.AnchorState.Failures() + n.ImageDetected.Failures() + n.ImageState.Failures()
}
