package mixedreality

import "github.com/banshee-data/mrsync/internal/mixedreality/tracker"

// PlaneDetectionListener is told about newly admitted planes.
type PlaneDetectionListener interface {
	OnPlaneDetection(p *Plane)
}

// PlaneStateListener is told when a plane's tracking state changes.
type PlaneStateListener interface {
	OnPlaneStateChange(p *Plane, state TrackingState)
}

// PlaneMergeListener is told when a plane is subsumed by another.
type PlaneMergeListener interface {
	OnPlaneMerging(child, parent *Plane)
}

// PlaneEventsListener receives every plane event.
type PlaneEventsListener interface {
	PlaneDetectionListener
	PlaneStateListener
	PlaneMergeListener
}

// AnchorEventsListener is told when an anchor's tracking state changes.
type AnchorEventsListener interface {
	OnAnchorStateChange(a *Anchor, state TrackingState)
}

// AugmentedImageDetectionListener is told about newly admitted images.
type AugmentedImageDetectionListener interface {
	OnAugmentedImageDetection(img *AugmentedImage)
}

// AugmentedImageStateListener is told when an image's tracking state changes.
type AugmentedImageStateListener interface {
	OnAugmentedImageStateChange(img *AugmentedImage, state TrackingState)
}

// AugmentedImageEventsListener receives every augmented image event.
type AugmentedImageEventsListener interface {
	AugmentedImageDetectionListener
	AugmentedImageStateListener
}

// CloudAnchorListener is told once when a host or resolve task finishes.
type CloudAnchorListener interface {
	OnTaskComplete(a *Anchor, state tracker.CloudState)
}
