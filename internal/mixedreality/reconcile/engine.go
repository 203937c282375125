// Package reconcile keeps the mirror registry in step with the external
// tracker, one frame at a time.
//
// Each Update walks the frame snapshot in a fixed order: planes, images,
// anchors, then pending cloud-anchor tasks. New entities are admitted the
// first time they are seen tracking, tracking-state transitions and plane
// merges produce events, and every mirror pose is recomputed from the
// tracker pose on every frame.
//
// Listener callbacks run synchronously on the goroutine calling Update. A
// listener may create or remove anchors and change subscriptions from its
// callback, but must not call Update re-entrantly.
package reconcile

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/fanout"
	"github.com/banshee-data/mrsync/internal/mixedreality/pose"
	"github.com/banshee-data/mrsync/internal/mixedreality/registry"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
	"github.com/banshee-data/mrsync/internal/monitoring"
)

var logf = monitoring.Tagged("reconcile")

// Engine reconciles one session's registry against tracker frames.
type Engine struct {
	reg    *registry.Registry
	notify *Notifier

	mu    sync.Mutex // one Update at a time
	light atomic.Pointer[mixedreality.LightEstimate]

	frames             atomic.Int64
	planePasses        atomic.Int64
	planePassesSkipped atomic.Int64
	planesAdmitted     atomic.Int64
	imagesAdmitted     atomic.Int64
	merges             atomic.Int64
	duplicates         atomic.Int64
	cloudCompleted     atomic.Int64
	cloudFailures      atomic.Int64

	// now is replaced in tests.
	now func() time.Time
}

// Stats is a point-in-time copy of the engine counters.
type Stats struct {
	Frames             int64
	PlanePasses        int64
	PlanePassesSkipped int64
	PlanesAdmitted     int64
	ImagesAdmitted     int64
	Merges             int64
	DuplicateEntities  int64
	CloudTasks         int64
	ListenerFailures   int64
}

// New returns an engine over reg that publishes through notify.
func New(reg *registry.Registry, notify *Notifier) *Engine {
	e := &Engine{reg: reg, notify: notify, now: time.Now}
	invalid := mixedreality.LightEstimate{State: mixedreality.LightEstimateNotValid}
	e.light.Store(&invalid)
	return e
}

// Registry returns the registry the engine writes to.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Notifier returns the engine's subscriber lists.
func (e *Engine) Notifier() *Notifier { return e.notify }

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Frames:             e.frames.Load(),
		PlanePasses:        e.planePasses.Load(),
		PlanePassesSkipped: e.planePassesSkipped.Load(),
		PlanesAdmitted:     e.planesAdmitted.Load(),
		ImagesAdmitted:     e.imagesAdmitted.Load(),
		Merges:             e.merges.Load(),
		DuplicateEntities:  e.duplicates.Load(),
		CloudTasks:         e.cloudCompleted.Load(),
		ListenerFailures:   e.notify.Failures() + e.cloudFailures.Load(),
	}
}

// LightEstimate returns the light estimate of the last frame.
func (e *Engine) LightEstimate() mixedreality.LightEstimate {
	return *e.light.Load()
}

// Update reconciles the registry with frame. scale converts tracker units
// to local world units. A nil frame is ignored.
func (e *Engine) Update(frame *tracker.Frame, scale float64) {
	if frame == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := frame.Timestamp
	if now.IsZero() {
		now = e.now()
	}
	e.frames.Add(1)

	// Step 1: planes, only when someone is listening
	e.updatePlanes(frame.Planes, scale, now)

	// Step 2: augmented images
	e.updateImages(frame.Images, scale, now)

	// Step 3: application anchors
	e.updateAnchors(scale, now)

	// Step 4: cloud anchor tasks that finished since the last frame
	e.completeCloudTasks(scale, now)

	le := mixedreality.LightEstimateFrom(frame.LightEstimate)
	e.light.Store(&le)
}

func (e *Engine) updatePlanes(planes []tracker.Plane, scale float64, now time.Time) {
	if !e.notify.HasPlaneListeners() {
		e.planePassesSkipped.Add(1)
		return
	}
	e.planePasses.Add(1)

	snapshot := make(map[tracker.Handle]tracker.Plane, len(planes))
	for _, src := range planes {
		if src == nil {
			continue
		}
		snapshot[src.Handle()] = src
		if src.TrackingState() != tracker.Tracking {
			continue
		}
		if _, ok := e.reg.Plane(src.Handle()); ok {
			continue
		}

		p := mixedreality.NewPlane(src.Handle())
		p.State = mixedreality.StateTracking
		p.FirstSeen = now
		p.Sync(src, scale, now)
		if err := e.reg.InsertPlane(p); err != nil {
			e.duplicates.Add(1)
			logf("skipping plane %s: %v", src.Handle(), err)
			continue
		}
		e.planesAdmitted.Add(1)
		_ = e.notify.PlaneDetected.Publish(func(l mixedreality.PlaneDetectionListener) {
			l.OnPlaneDetection(p)
		})
	}

	for _, p := range e.reg.Planes() {
		src, ok := snapshot[p.Handle]
		if !ok {
			// Not in this frame; keep the last known state and pose.
			continue
		}

		if next, changed := mixedreality.Advance(p.State, src.TrackingState()); changed {
			p.State = next
			_ = e.notify.PlaneState.Publish(func(l mixedreality.PlaneStateListener) {
				l.OnPlaneStateChange(p, next)
			})
		}

		if parentHandle, subsumed := src.SubsumedBy(); subsumed && !p.Merged() {
			e.mergePlane(p, parentHandle)
		}

		p.Sync(src, scale, now)
	}
}

// mergePlane records that child was subsumed by the plane with
// parentHandle. A parent that has not been admitted yet is retried on a
// later frame.
func (e *Engine) mergePlane(child *mixedreality.Plane, parentHandle tracker.Handle) {
	parent, ok := e.reg.Plane(parentHandle)
	if !ok || parent == child {
		logf("plane %s subsumed by unknown plane %s, will retry", child.Handle, parentHandle)
		return
	}
	if !child.SetParent(parent) {
		return
	}
	e.merges.Add(1)
	_ = e.notify.PlaneMerged.Publish(func(l mixedreality.PlaneMergeListener) {
		l.OnPlaneMerging(child, parent)
	})
}

func (e *Engine) updateImages(images []tracker.AugmentedImage, scale float64, now time.Time) {
	snapshot := make(map[tracker.Handle]tracker.AugmentedImage, len(images))
	for _, src := range images {
		if src == nil {
			continue
		}
		snapshot[src.Handle()] = src
		if src.TrackingState() != tracker.Tracking {
			continue
		}
		if _, ok := e.reg.Image(src.Handle()); ok {
			continue
		}

		img := mixedreality.NewAugmentedImage(src.Handle())
		img.State = mixedreality.StateTracking
		img.FirstSeen = now
		img.Sync(src, scale, now)
		if err := e.reg.InsertImage(img); err != nil {
			e.duplicates.Add(1)
			logf("skipping image %s: %v", src.Handle(), err)
			continue
		}
		e.imagesAdmitted.Add(1)
		_ = e.notify.ImageDetected.Publish(func(l mixedreality.AugmentedImageDetectionListener) {
			l.OnAugmentedImageDetection(img)
		})
	}

	for _, img := range e.reg.Images() {
		src, ok := snapshot[img.Handle]
		if !ok {
			continue
		}
		if next, changed := mixedreality.Advance(img.State, src.TrackingState()); changed {
			img.State = next
			_ = e.notify.ImageState.Publish(func(l mixedreality.AugmentedImageStateListener) {
				l.OnAugmentedImageStateChange(img, next)
			})
		}
		img.Sync(src, scale, now)
	}
}

func (e *Engine) updateAnchors(scale float64, now time.Time) {
	for _, tr := range e.reg.SyncAnchors(scale, now) {
		_ = e.notify.AnchorState.Publish(func(l mixedreality.AnchorEventsListener) {
			l.OnAnchorStateChange(tr.Anchor, tr.State)
		})
	}
}

func (e *Engine) completeCloudTasks(scale float64, now time.Time) {
	for _, task := range e.reg.TakeCompleted() {
		state := task.Cloud.CloudState()
		a := task.Anchor
		// A host task can finish after its anchor was removed. Its tracker
		// anchor is released and the listener is not told about a mirror
		// the application already gave up.
		removed := false

		switch task.Kind {
		case registry.CloudHost:
			if state != tracker.CloudSuccess {
				task.Cloud.Detach()
				owned, ok := e.reg.Anchor(a.ID)
				removed = !ok || owned != a
				break
			}
			old, owned := e.reg.CompleteHost(task)
			if !owned {
				task.Cloud.Detach()
				removed = true
				break
			}
			if old != nil && old != task.Cloud {
				old.Detach()
			}
		case registry.CloudResolve:
			if state == tracker.CloudSuccess {
				a.External = task.Cloud
				a.CloudAnchorID = task.Cloud.CloudAnchorID()
				a.State = task.Cloud.TrackingState()
				a.Sync(scale, now)
				e.reg.AddAnchor(a)
			} else {
				task.Cloud.Detach()
			}
		}
		e.cloudCompleted.Add(1)

		if removed || task.Listener == nil {
			continue
		}
		err := fanout.Deliver(CategoryCloudTaskComplete, task.Listener, func(l mixedreality.CloudAnchorListener) {
			l.OnTaskComplete(a, state)
		})
		if err != nil {
			e.cloudFailures.Add(1)
		}
	}
}

// HitTest picks the first candidate that lands inside the polygon of a
// plane that has not been subsumed, and converts its pose to local space.
// Candidates are considered in tracker order.
func (e *Engine) HitTest(candidates []tracker.HitCandidate, scale float64) (*mixedreality.HitResult, bool) {
	for _, c := range candidates {
		plane, ok := c.Trackable.(tracker.Plane)
		if !ok {
			continue
		}
		if !plane.IsPoseInPolygon(c.HitPose) {
			continue
		}
		if _, subsumed := plane.SubsumedBy(); subsumed {
			continue
		}
		mirror, known := e.reg.Plane(plane.Handle())
		if known && mirror.Merged() {
			continue
		}
		return &mixedreality.HitResult{
			Pose:     pose.ToLocal(c.HitPose, scale),
			Distance: c.Distance,
			Plane:    mirror,
		}, true
	}
	return nil, false
}
