// Package simtracker is an in-memory tracker.Backend driven by a script.
//
// Tests and the simulator build a world by adding planes, images and
// anchors, mutating their state between frames, and queueing hit-test
// candidates. Update hands out immutable snapshots, so scripting from one
// goroutine while another reconciles is safe.
package simtracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/mrsync/internal/mixedreality/pose"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
)

// ErrNotResumed is returned by Update and the anchor calls while paused.
var ErrNotResumed = errors.New("simtracker: session paused")

// Step is a scripted change applied before the snapshot of Frame is taken.
type Step struct {
	Frame int
	Apply func(t *Tracker)
}

// Tracker is a scriptable tracker.Backend.
type Tracker struct {
	mu sync.Mutex

	resumed bool
	frame   int
	start   time.Time
	period  time.Duration

	planes  []*Plane
	images  []*Image
	anchors []*Anchor
	nextID  int

	light     tracker.LightEstimate
	hits      []tracker.HitCandidate
	reference []tracker.ReferenceImage
	script    []Step

	createErr error
}

// New returns a paused tracker whose frames are period apart starting at
// start.
func New(start time.Time, period time.Duration) *Tracker {
	return &Tracker{start: start, period: period}
}

func (t *Tracker) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumed = true
	return nil
}

func (t *Tracker) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumed = false
	return nil
}

// Script schedules steps; steps for the same frame run in the given order.
func (t *Tracker) Script(steps ...Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, steps...)
	sort.SliceStable(t.script, func(i, j int) bool { return t.script[i].Frame < t.script[j].Frame })
}

// FrameCount returns the number of frames produced so far.
func (t *Tracker) FrameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frame
}

// Update advances one frame and returns its snapshot.
func (t *Tracker) Update(ctx context.Context) (*tracker.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if !t.resumed {
		t.mu.Unlock()
		return nil, ErrNotResumed
	}
	t.frame++
	var due []Step
	for len(t.script) > 0 && t.script[0].Frame <= t.frame {
		due = append(due, t.script[0])
		t.script = t.script[1:]
	}
	t.mu.Unlock()

	// Steps call back into the tracker's setters, so they run unlocked.
	for _, s := range due {
		s.Apply(t)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	f := &tracker.Frame{
		Timestamp:     t.start.Add(time.Duration(t.frame) * t.period),
		LightEstimate: t.light,
	}
	for _, p := range t.planes {
		f.Planes = append(f.Planes, p.view())
	}
	for _, img := range t.images {
		f.Images = append(f.Images, img.view())
	}
	return f, nil
}

// AddPlane creates a tracking plane centred at center with a boundary
// polygon given as x,z pairs in plane-local space.
func (t *Tracker) AddPlane(handle tracker.Handle, typ tracker.PlaneType, center pose.Matrix, polygon []float64) *Plane {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &Plane{
		t:       t,
		handle:  handle,
		state:   tracker.Tracking,
		typ:     typ,
		center:  center,
		polygon: append([]float64(nil), polygon...),
	}
	p.extentX, p.extentZ = extents(polygon)
	t.planes = append(t.planes, p)
	return p
}

// AddImage creates a tracking augmented image.
func (t *Tracker) AddImage(handle tracker.Handle, index int, name string, center pose.Matrix, extentX, extentZ float64) *Image {
	t.mu.Lock()
	defer t.mu.Unlock()
	img := &Image{
		t:       t,
		handle:  handle,
		state:   tracker.Tracking,
		index:   index,
		name:    name,
		center:  center,
		extentX: extentX,
		extentZ: extentZ,
	}
	t.images = append(t.images, img)
	return img
}

// SetLightEstimate sets the reading reported with subsequent frames.
func (t *Tracker) SetLightEstimate(intensity float64, valid bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.light = tracker.LightEstimate{PixelIntensity: intensity, Valid: valid}
}

// SetHits sets the candidates returned by every following HitTest.
func (t *Tracker) SetHits(candidates ...tracker.HitCandidate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hits = append([]tracker.HitCandidate(nil), candidates...)
}

// HitAt builds a candidate on plane p at plane-local (x, z).
func (t *Tracker) HitAt(p *Plane, x, z, distance float64) tracker.HitCandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	local := pose.FromTranslation(x, 0, z)
	return tracker.HitCandidate{
		Trackable: p.view(),
		HitPose:   p.center.Mul(local),
		Distance:  distance,
	}
}

func (t *Tracker) HitTest(x, y float64) ([]tracker.HitCandidate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.resumed {
		return nil, ErrNotResumed
	}
	return append([]tracker.HitCandidate(nil), t.hits...), nil
}

func (t *Tracker) SetAugmentedImages(images []tracker.ReferenceImage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reference = append([]tracker.ReferenceImage(nil), images...)
	return nil
}

// ReferenceImages returns the configured image database.
func (t *Tracker) ReferenceImages() []tracker.ReferenceImage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]tracker.ReferenceImage(nil), t.reference...)
}

// FailCreateAnchor makes the next anchor request fail with err.
func (t *Tracker) FailCreateAnchor(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.createErr = err
}

func (t *Tracker) CreateAnchor(p pose.Matrix) (tracker.Anchor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.resumed {
		return nil, ErrNotResumed
	}
	if err := t.createErr; err != nil {
		t.createErr = nil
		return nil, err
	}
	return t.newAnchorLocked(p, tracker.CloudNone, ""), nil
}

// HostCloudAnchor starts hosting a. The returned anchor stays in progress
// until CompleteCloud is called for it.
func (t *Tracker) HostCloudAnchor(a tracker.Anchor) (tracker.Anchor, error) {
	src, ok := a.(*Anchor)
	if !ok {
		return nil, fmt.Errorf("simtracker: foreign anchor %T", a)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.newAnchorLocked(src.pose, tracker.CloudInProgress, ""), nil
}

// ResolveCloudAnchor starts resolving cloudID. The returned anchor stays in
// progress until CompleteCloud is called for it.
func (t *Tracker) ResolveCloudAnchor(cloudID string) (tracker.Anchor, error) {
	if cloudID == "" {
		return nil, errors.New("simtracker: empty cloud anchor id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.newAnchorLocked(pose.Identity(), tracker.CloudInProgress, "")
	a.requested = cloudID
	return a, nil
}

// CompleteCloud finishes every in-progress cloud task with state. Hosted
// anchors get an id of the form "cloud-<handle>"; resolved anchors keep
// the id they were asked for.
func (t *Tracker) CompleteCloud(state tracker.CloudState) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, a := range t.anchors {
		if a.cloud != tracker.CloudInProgress {
			continue
		}
		a.cloud = state
		if state == tracker.CloudSuccess {
			a.cloudID = a.requested
			if a.cloudID == "" {
				a.cloudID = "cloud-" + string(a.handle)
			}
		}
		n++
	}
	return n
}

func (t *Tracker) newAnchorLocked(p pose.Matrix, cloud tracker.CloudState, cloudID string) *Anchor {
	t.nextID++
	a := &Anchor{
		t:       t,
		handle:  tracker.Handle(fmt.Sprintf("anchor-%d", t.nextID)),
		state:   tracker.Tracking,
		pose:    p,
		cloud:   cloud,
		cloudID: cloudID,
	}
	t.anchors = append(t.anchors, a)
	return a
}

// Anchors returns every anchor ever created, detached or not.
func (t *Tracker) Anchors() []*Anchor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Anchor(nil), t.anchors...)
}

// Detached returns the number of anchors that have been detached.
func (t *Tracker) Detached() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, a := range t.anchors {
		if a.detached {
			n++
		}
	}
	return n
}

// extents returns the bounding box size of an x,z polygon.
func extents(polygon []float64) (x, z float64) {
	if len(polygon) < 2 {
		return 0, 0
	}
	minX, maxX := polygon[0], polygon[0]
	minZ, maxZ := polygon[1], polygon[1]
	for i := 2; i+1 < len(polygon); i += 2 {
		minX, maxX = min(minX, polygon[i]), max(maxX, polygon[i])
		minZ, maxZ = min(minZ, polygon[i+1]), max(maxZ, polygon[i+1])
	}
	return maxX - minX, maxZ - minZ
}

var _ tracker.Backend = (*Tracker)(nil)
