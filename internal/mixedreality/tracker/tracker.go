// Package tracker describes the external tracking subsystem (an AR SDK)
// as seen by the synchronization layer.
//
// Everything here is a boundary: the tracker owns the real-world entities
// and their identities, this layer only reads per-frame snapshots and
// issues anchor requests. Entities are identified by Handle, never by
// reference equality on a tracker object.
package tracker

import (
	"context"
	"time"

	"github.com/banshee-data/mrsync/internal/mixedreality/pose"
)

// Handle is an opaque identity issued by the tracker. It is stable for the
// lifetime of the entity it names.
type Handle string

// TrackingState is the tracking status of an entity.
type TrackingState string

const (
	Tracking TrackingState = "tracking" // Pose is being estimated
	Paused   TrackingState = "paused"   // Temporarily lost, may resume
	Stopped  TrackingState = "stopped"  // Tracking will not resume
)

// Valid reports whether s is one of the known states.
func (s TrackingState) Valid() bool {
	switch s {
	case Tracking, Paused, Stopped:
		return true
	}
	return false
}

// PlaneType describes the orientation of a detected plane.
type PlaneType string

const (
	HorizontalUpwardFacing   PlaneType = "horizontal_upward_facing"
	HorizontalDownwardFacing PlaneType = "horizontal_downward_facing"
	Vertical                 PlaneType = "vertical"
)

// Trackable is the capability set shared by every tracker entity.
type Trackable interface {
	Handle() Handle
	TrackingState() TrackingState
}

// Plane is a detected real-world planar surface.
type Plane interface {
	Trackable
	// CenterPose is the plane's center in tracker space.
	CenterPose() pose.Matrix
	// SubsumedBy returns the handle of the plane that absorbed this one.
	SubsumedBy() (Handle, bool)
	Type() PlaneType
	// Polygon returns the boundary as flattened x,z pairs in plane-local space.
	Polygon() []float64
	ExtentX() float64
	ExtentZ() float64
	// IsPoseInPolygon reports whether a tracker-space pose projects into
	// the plane's boundary polygon.
	IsPoseInPolygon(p pose.Matrix) bool
}

// AugmentedImage is a detected instance of a reference image.
type AugmentedImage interface {
	Trackable
	CenterPose() pose.Matrix
	// Index is the reference image's position in the configured database.
	Index() int
	Name() string
	ExtentX() float64
	ExtentZ() float64
}

// CloudState is the progress of a cloud host or resolve task.
type CloudState string

const (
	CloudNone       CloudState = "none"
	CloudInProgress CloudState = "task_in_progress"
	CloudSuccess    CloudState = "success"
	CloudError      CloudState = "error"
)

// Terminal reports whether the task has finished.
func (s CloudState) Terminal() bool {
	return s == CloudSuccess || s == CloudError
}

// Anchor is a tracker-side anchor created on request of the application.
type Anchor interface {
	Trackable
	Pose() pose.Matrix
	// Detach releases the anchor; the tracker stops updating it.
	Detach()
	CloudState() CloudState
	CloudAnchorID() string
}

// HitCandidate is one result of a tracker hit test, in the order the
// tracker ranked it.
type HitCandidate struct {
	Trackable Trackable
	HitPose   pose.Matrix
	Distance  float64
}

// LightEstimate is the tracker's ambient light reading for a frame.
type LightEstimate struct {
	PixelIntensity float64
	Valid          bool
}

// ReferenceImage is a bitmap the tracker should look for.
type ReferenceImage struct {
	Name string
	Data []byte
}

// Frame is a consistent snapshot of everything the tracker knows at one
// instant.
type Frame struct {
	Timestamp     time.Time
	Planes        []Plane
	Images        []AugmentedImage
	LightEstimate LightEstimate
}

// Backend is the tracking session provided by an AR platform.
type Backend interface {
	Resume() error
	Pause() error
	// Update advances the tracker and returns the latest snapshot.
	Update(ctx context.Context) (*Frame, error)
	CreateAnchor(p pose.Matrix) (Anchor, error)
	// HitTest casts a ray through normalised screen coordinates.
	HitTest(x, y float64) ([]HitCandidate, error)
	SetAugmentedImages(images []ReferenceImage) error
	HostCloudAnchor(a Anchor) (Anchor, error)
	ResolveCloudAnchor(cloudID string) (Anchor, error)
}
