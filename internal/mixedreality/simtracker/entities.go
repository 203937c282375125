package simtracker

import (
	"github.com/banshee-data/mrsync/internal/mixedreality/pose"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
)

// Plane is a scripted plane. Its setters take effect from the next frame.
type Plane struct {
	t *Tracker

	handle     tracker.Handle
	state      tracker.TrackingState
	typ        tracker.PlaneType
	center     pose.Matrix
	polygon    []float64
	extentX    float64
	extentZ    float64
	subsumedBy tracker.Handle
}

func (p *Plane) Handle() tracker.Handle { return p.handle }

func (p *Plane) SetState(s tracker.TrackingState) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	p.state = s
}

func (p *Plane) SetCenter(center pose.Matrix) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	p.center = center
}

func (p *Plane) SetPolygon(polygon []float64) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	p.polygon = append([]float64(nil), polygon...)
	p.extentX, p.extentZ = extents(polygon)
}

// SubsumeInto marks p as absorbed by parent.
func (p *Plane) SubsumeInto(parent *Plane) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	p.subsumedBy = parent.handle
}

// SubsumeIntoHandle marks p as absorbed by a plane the tracker may not
// have reported yet.
func (p *Plane) SubsumeIntoHandle(parent tracker.Handle) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	p.subsumedBy = parent
}

// View returns the current immutable snapshot of p.
func (p *Plane) View() tracker.Plane {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	return p.view()
}

func (p *Plane) view() planeView {
	return planeView{
		handle:     p.handle,
		state:      p.state,
		typ:        p.typ,
		center:     p.center,
		polygon:    append([]float64(nil), p.polygon...),
		extentX:    p.extentX,
		extentZ:    p.extentZ,
		subsumedBy: p.subsumedBy,
	}
}

type planeView struct {
	handle     tracker.Handle
	state      tracker.TrackingState
	typ        tracker.PlaneType
	center     pose.Matrix
	polygon    []float64
	extentX    float64
	extentZ    float64
	subsumedBy tracker.Handle
}

func (v planeView) Handle() tracker.Handle               { return v.handle }
func (v planeView) TrackingState() tracker.TrackingState { return v.state }
func (v planeView) CenterPose() pose.Matrix              { return v.center }
func (v planeView) Type() tracker.PlaneType              { return v.typ }
func (v planeView) Polygon() []float64                   { return v.polygon }
func (v planeView) ExtentX() float64                     { return v.extentX }
func (v planeView) ExtentZ() float64                     { return v.extentZ }

func (v planeView) SubsumedBy() (tracker.Handle, bool) {
	return v.subsumedBy, v.subsumedBy != ""
}

// IsPoseInPolygon moves p into plane-local space and tests its x,z
// against the boundary.
func (v planeView) IsPoseInPolygon(p pose.Matrix) bool {
	inv, err := v.center.Inverse()
	if err != nil {
		return false
	}
	// Height above the plane is ignored.
	lx, _, lz := inv.Transform(p.Translation())
	return pose.InPolygon(v.polygon, lx, lz)
}

// Image is a scripted augmented image.
type Image struct {
	t *Tracker

	handle  tracker.Handle
	state   tracker.TrackingState
	index   int
	name    string
	center  pose.Matrix
	extentX float64
	extentZ float64
}

func (img *Image) Handle() tracker.Handle { return img.handle }

func (img *Image) SetState(s tracker.TrackingState) {
	img.t.mu.Lock()
	defer img.t.mu.Unlock()
	img.state = s
}

func (img *Image) SetCenter(center pose.Matrix) {
	img.t.mu.Lock()
	defer img.t.mu.Unlock()
	img.center = center
}

func (img *Image) view() imageView {
	return imageView{
		handle:  img.handle,
		state:   img.state,
		index:   img.index,
		name:    img.name,
		center:  img.center,
		extentX: img.extentX,
		extentZ: img.extentZ,
	}
}

type imageView struct {
	handle  tracker.Handle
	state   tracker.TrackingState
	index   int
	name    string
	center  pose.Matrix
	extentX float64
	extentZ float64
}

func (v imageView) Handle() tracker.Handle               { return v.handle }
func (v imageView) TrackingState() tracker.TrackingState { return v.state }
func (v imageView) CenterPose() pose.Matrix              { return v.center }
func (v imageView) Index() int                           { return v.index }
func (v imageView) Name() string                         { return v.name }
func (v imageView) ExtentX() float64                     { return v.extentX }
func (v imageView) ExtentZ() float64                     { return v.extentZ }

// Anchor is a tracker anchor handed out by CreateAnchor or a cloud task.
// Unlike planes it is live: reads see the latest scripted values.
type Anchor struct {
	t *Tracker

	handle    tracker.Handle
	state     tracker.TrackingState
	pose      pose.Matrix
	cloud     tracker.CloudState
	cloudID   string
	requested string
	detached  bool
}

func (a *Anchor) Handle() tracker.Handle {
	return a.handle
}

func (a *Anchor) TrackingState() tracker.TrackingState {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	if a.detached {
		return tracker.Stopped
	}
	return a.state
}

func (a *Anchor) Pose() pose.Matrix {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	return a.pose
}

func (a *Anchor) Detach() {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	a.detached = true
}

func (a *Anchor) CloudState() tracker.CloudState {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	return a.cloud
}

func (a *Anchor) CloudAnchorID() string {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	return a.cloudID
}

// Detached reports whether Detach was called.
func (a *Anchor) Detached() bool {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	return a.detached
}

func (a *Anchor) SetState(s tracker.TrackingState) {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	a.state = s
}

func (a *Anchor) SetPose(p pose.Matrix) {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	a.pose = p
}
