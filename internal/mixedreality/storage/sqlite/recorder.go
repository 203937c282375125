package sqlite

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/reconcile"
	"github.com/banshee-data/mrsync/internal/mixedreality/registry"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
	"github.com/banshee-data/mrsync/internal/monitoring"
)

var recorderf = monitoring.Tagged("recorder")

// Recorder persists every event it receives. It implements all of the
// session listener interfaces. Write failures are logged and counted; they
// never reach the reconciliation loop.
type Recorder struct {
	store     *Store
	sessionID string
	failures  atomic.Int64
}

// NewRecorder records into sessionID, which must come from BeginSession.
func NewRecorder(store *Store, sessionID string) *Recorder {
	return &Recorder{store: store, sessionID: sessionID}
}

func (r *Recorder) SessionID() string { return r.sessionID }

// Failures returns the number of writes that failed.
func (r *Recorder) Failures() int64 { return r.failures.Load() }

func (r *Recorder) record(kind, entityID, state, detail string, at time.Time, upsert func() error) {
	if at.IsZero() {
		at = time.Now()
	}
	err := errors.Join(
		upsert(),
		r.store.RecordEvent(Event{
			SessionID:  r.sessionID,
			Kind:       kind,
			EntityID:   entityID,
			State:      state,
			Detail:     detail,
			RecordedAt: at,
		}),
	)
	if err != nil {
		r.failures.Add(1)
		recorderf("failed to record %s for %s: %v", kind, entityID, err)
	}
}

func (r *Recorder) upsertPlane(p *mixedreality.Plane) func() error {
	return func() error { return r.store.UpsertPlane(r.sessionID, p) }
}

func (r *Recorder) upsertImage(img *mixedreality.AugmentedImage) func() error {
	return func() error { return r.store.UpsertImage(r.sessionID, img) }
}

func (r *Recorder) upsertAnchor(a *mixedreality.Anchor) func() error {
	return func() error { return r.store.UpsertAnchor(r.sessionID, a) }
}

func (r *Recorder) OnPlaneDetection(p *mixedreality.Plane) {
	r.record(reconcile.CategoryPlaneDetected, p.ID, string(p.State), string(p.Type), p.LastUpdated, r.upsertPlane(p))
}

func (r *Recorder) OnPlaneStateChange(p *mixedreality.Plane, state mixedreality.TrackingState) {
	r.record(reconcile.CategoryPlaneStateChanged, p.ID, string(state), "", p.LastUpdated, r.upsertPlane(p))
}

func (r *Recorder) OnPlaneMerging(child, parent *mixedreality.Plane) {
	r.record(reconcile.CategoryPlaneMerged, child.ID, string(child.State), parent.ID, child.LastUpdated, r.upsertPlane(child))
}

func (r *Recorder) OnAnchorStateChange(a *mixedreality.Anchor, state mixedreality.TrackingState) {
	r.record(reconcile.CategoryAnchorState, a.Name(), string(state), "", a.LastUpdated, r.upsertAnchor(a))
}

func (r *Recorder) OnAugmentedImageDetection(img *mixedreality.AugmentedImage) {
	r.record(reconcile.CategoryImageDetected, img.ID, string(img.State), img.Name, img.LastUpdated, r.upsertImage(img))
}

func (r *Recorder) OnAugmentedImageStateChange(img *mixedreality.AugmentedImage, state mixedreality.TrackingState) {
	r.record(reconcile.CategoryImageStateChanged, img.ID, string(state), img.Name, img.LastUpdated, r.upsertImage(img))
}

// OnTaskComplete records a finished cloud task. Anchors from failed
// resolves were never registered and are logged without a row.
func (r *Recorder) OnTaskComplete(a *mixedreality.Anchor, state tracker.CloudState) {
	upsert := func() error { return nil }
	if a.ID != 0 {
		upsert = r.upsertAnchor(a)
	}
	r.record(reconcile.CategoryCloudTaskComplete, a.Name(), string(state), a.CloudAnchorID, a.LastUpdated, upsert)
}

// Snapshot writes the current state of every mirror in reg, so the
// recording ends with final poses rather than those at the last event.
func (r *Recorder) Snapshot(reg *registry.Registry) error {
	var errs []error
	for _, p := range reg.Planes() {
		errs = append(errs, r.store.UpsertPlane(r.sessionID, p))
	}
	for _, img := range reg.Images() {
		errs = append(errs, r.store.UpsertImage(r.sessionID, img))
	}
	reg.EachAnchor(func(a *mixedreality.Anchor) {
		errs = append(errs, r.store.UpsertAnchor(r.sessionID, a))
	})
	return errors.Join(errs...)
}

var (
	_ mixedreality.PlaneEventsListener          = (*Recorder)(nil)
	_ mixedreality.AnchorEventsListener         = (*Recorder)(nil)
	_ mixedreality.AugmentedImageEventsListener = (*Recorder)(nil)
	_ mixedreality.CloudAnchorListener          = (*Recorder)(nil)
)
