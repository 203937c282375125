package mixedreality

import (
	"fmt"
	"time"

	"github.com/banshee-data/mrsync/internal/mixedreality/pose"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
	"github.com/google/uuid"
)

// TrackingState is the tracking status of a mirror entity.
type TrackingState = tracker.TrackingState

// Re-exported tracking states.
const (
	StateTracking = tracker.Tracking
	StatePaused   = tracker.Paused
	StateStopped  = tracker.Stopped
)

// SceneNode is a node in the host scene graph.
type SceneNode interface {
	Name() string
}

// SceneGraph is the host scene that anchor nodes are attached to.
type SceneGraph interface {
	NewNode(name string) SceneNode
	AddNode(n SceneNode)
	RemoveNode(n SceneNode)
}

// Plane mirrors a tracker plane in local world space.
type Plane struct {
	// Identity
	ID     string
	Handle tracker.Handle

	State TrackingState
	Type  tracker.PlaneType

	// Pose is the plane center in local world space.
	Pose pose.Matrix

	// Boundary, in tracker units and plane-local coordinates
	Polygon []float64
	ExtentX float64
	ExtentZ float64

	FirstSeen   time.Time
	LastUpdated time.Time

	// Node optionally represents the plane in the scene.
	Node SceneNode

	parent *Plane
}

// NewPlane returns an unregistered plane mirror for handle.
func NewPlane(handle tracker.Handle) *Plane {
	return &Plane{
		ID:     fmt.Sprintf("pln_%s", uuid.NewString()),
		Handle: handle,
	}
}

// Parent returns the plane that subsumed p, or nil.
func (p *Plane) Parent() *Plane { return p.parent }

// SetParent records that p was subsumed by parent. The relation is set at
// most once: it returns false, leaving p unchanged, when parent is nil or
// a parent is already recorded.
func (p *Plane) SetParent(parent *Plane) bool {
	if parent == nil || p.parent != nil {
		return false
	}
	p.parent = parent
	return true
}

// Merged reports whether p has been subsumed.
func (p *Plane) Merged() bool { return p.parent != nil }

// Sync copies the tracker's current geometry into the mirror.
func (p *Plane) Sync(src tracker.Plane, scale float64, now time.Time) {
	p.Type = src.Type()
	p.Pose = pose.ToLocal(src.CenterPose(), scale)
	p.Polygon = append(p.Polygon[:0], src.Polygon()...)
	p.ExtentX = src.ExtentX()
	p.ExtentZ = src.ExtentZ()
	p.LastUpdated = now
}

// AugmentedImage mirrors a detected reference image.
type AugmentedImage struct {
	ID     string
	Handle tracker.Handle

	State TrackingState

	// Reference image identity
	Index int
	Name  string

	Pose    pose.Matrix
	ExtentX float64
	ExtentZ float64

	FirstSeen   time.Time
	LastUpdated time.Time
}

// NewAugmentedImage returns an unregistered image mirror for handle.
func NewAugmentedImage(handle tracker.Handle) *AugmentedImage {
	return &AugmentedImage{
		ID:     fmt.Sprintf("img_%s", uuid.NewString()),
		Handle: handle,
	}
}

// Sync copies the tracker's current geometry into the mirror.
func (img *AugmentedImage) Sync(src tracker.AugmentedImage, scale float64, now time.Time) {
	img.Index = src.Index()
	img.Name = src.Name()
	img.Pose = pose.ToLocal(src.CenterPose(), scale)
	img.ExtentX = src.ExtentX()
	img.ExtentZ = src.ExtentZ()
	img.LastUpdated = now
}

// Anchor is an application-owned point fixed to the real world. Unlike
// planes and images it is created on request and lives until removed.
type Anchor struct {
	// ID is assigned by the registry on insertion; zero means unregistered.
	ID int64

	State TrackingState
	Pose  pose.Matrix

	// External is the tracker anchor this mirror follows.
	External tracker.Anchor

	// Node is the scene node that owns the anchor, if any.
	Node SceneNode

	// CloudAnchorID is set once the anchor is hosted or resolved.
	CloudAnchorID string

	LastUpdated time.Time
}

// Name returns a stable display name.
func (a *Anchor) Name() string {
	return fmt.Sprintf("anc_%d", a.ID)
}

// Sync copies the external anchor's pose into local space.
func (a *Anchor) Sync(scale float64, now time.Time) {
	if a.External == nil {
		return
	}
	a.Pose = pose.ToLocal(a.External.Pose(), scale)
	a.LastUpdated = now
}

// HitResult is a hit-test intersection with a plane, in local space.
type HitResult struct {
	Pose     pose.Matrix
	Distance float64
	Plane    *Plane
}

// LightEstimateState says whether a light estimate can be used.
type LightEstimateState string

const (
	LightEstimateValid    LightEstimateState = "valid"
	LightEstimateNotValid LightEstimateState = "not_valid"
)

// LightEstimate is the ambient light reading for the latest frame.
type LightEstimate struct {
	PixelIntensity float64
	State          LightEstimateState
}

// LightEstimateFrom converts a tracker reading.
func LightEstimateFrom(le tracker.LightEstimate) LightEstimate {
	state := LightEstimateNotValid
	if le.Valid {
		state = LightEstimateValid
	}
	return LightEstimate{PixelIntensity: le.PixelIntensity, State: state}
}
