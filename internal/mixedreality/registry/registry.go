// Package registry maps tracker identities to mirror entities.
//
// Planes and augmented images are keyed by tracker.Handle and are only
// ever added: there is no removal path for them, even once the tracker
// reports Stopped. Anchors are application-owned, keyed by a sequence the
// registry assigns, and are removed explicitly.
//
// Planes and images are written by the reconciliation goroutine; anchors
// and pending cloud tasks may be touched from application goroutines, so
// each group has its own lock.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
)

// Registry owns every mirror entity of one session.
type Registry struct {
	mu     sync.RWMutex
	planes *Collection[tracker.Handle, *mixedreality.Plane]
	images *Collection[tracker.Handle, *mixedreality.AugmentedImage]

	anchorMu     sync.RWMutex
	anchors      *Collection[int64, *mixedreality.Anchor]
	nextAnchorID int64
	pending      []*CloudTask
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		planes:       NewCollection[tracker.Handle, *mixedreality.Plane](),
		images:       NewCollection[tracker.Handle, *mixedreality.AugmentedImage](),
		anchors:      NewCollection[int64, *mixedreality.Anchor](),
		nextAnchorID: 1,
	}
}

// Plane returns the mirror for handle.
func (r *Registry) Plane(handle tracker.Handle) (*mixedreality.Plane, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.planes.Lookup(handle)
}

// InsertPlane registers p under its handle.
func (r *Registry) InsertPlane(p *mixedreality.Plane) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.planes.Insert(p.Handle, p)
}

// Planes returns every plane mirror in admission order.
func (r *Registry) Planes() []*mixedreality.Plane {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.planes.All()
}

// Image returns the mirror for handle.
func (r *Registry) Image(handle tracker.Handle) (*mixedreality.AugmentedImage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.images.Lookup(handle)
}

// InsertImage registers img under its handle.
func (r *Registry) InsertImage(img *mixedreality.AugmentedImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images.Insert(img.Handle, img)
}

// Images returns every image mirror in admission order.
func (r *Registry) Images() []*mixedreality.AugmentedImage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.images.All()
}

// AddAnchor assigns a an ID and takes ownership of it.
func (r *Registry) AddAnchor(a *mixedreality.Anchor) int64 {
	r.anchorMu.Lock()
	defer r.anchorMu.Unlock()
	a.ID = r.nextAnchorID
	r.nextAnchorID++
	// IDs are never reused, so this cannot collide.
	_ = r.anchors.Insert(a.ID, a)
	return a.ID
}

// Anchor returns the owned anchor with id.
func (r *Registry) Anchor(id int64) (*mixedreality.Anchor, bool) {
	r.anchorMu.RLock()
	defer r.anchorMu.RUnlock()
	return r.anchors.Lookup(id)
}

// RemoveAnchor evicts the anchor with id and cancels any host task still
// pending for it. The caller is responsible for detaching the external
// resources of both the anchor and the cancelled tasks.
func (r *Registry) RemoveAnchor(id int64) (*mixedreality.Anchor, []*CloudTask, error) {
	r.anchorMu.Lock()
	defer r.anchorMu.Unlock()
	a, err := r.anchors.Remove(id)
	if err != nil {
		return nil, nil, err
	}
	return a, r.cancelPendingLocked(a), nil
}

// RebindAnchor points the anchor with id at ext and syncs its pose. The
// previous tracker anchor is returned for the caller to detach.
func (r *Registry) RebindAnchor(id int64, ext tracker.Anchor, scale float64, now time.Time) (tracker.Anchor, error) {
	r.anchorMu.Lock()
	defer r.anchorMu.Unlock()
	a, ok := r.anchors.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("rebind %d: %w", id, mixedreality.ErrUnknownHandle)
	}
	old := a.External
	a.External = ext
	a.Sync(scale, now)
	return old, nil
}

// External returns the tracker anchor the anchor with id is bound to.
func (r *Registry) External(id int64) (tracker.Anchor, error) {
	r.anchorMu.RLock()
	defer r.anchorMu.RUnlock()
	a, ok := r.anchors.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("anchor %d: %w", id, mixedreality.ErrUnknownHandle)
	}
	return a.External, nil
}

// AnchorTransition records an anchor whose tracking state changed.
type AnchorTransition struct {
	Anchor *mixedreality.Anchor
	State  mixedreality.TrackingState
}

// SyncAnchors advances the state of every owned anchor from its tracker
// anchor and copies the tracker pose. Transitions are returned in creation
// order so listeners can be notified once the lock is released.
func (r *Registry) SyncAnchors(scale float64, now time.Time) []AnchorTransition {
	r.anchorMu.Lock()
	defer r.anchorMu.Unlock()

	var changed []AnchorTransition
	for _, a := range r.anchors.All() {
		if a.External == nil {
			continue
		}
		if next, ok := mixedreality.Advance(a.State, a.External.TrackingState()); ok {
			a.State = next
			changed = append(changed, AnchorTransition{Anchor: a, State: next})
		}
		a.Sync(scale, now)
	}
	return changed
}

// EachAnchor calls fn for every owned anchor in creation order with the
// anchor lock held for reading. fn must not call back into the registry.
func (r *Registry) EachAnchor(fn func(a *mixedreality.Anchor)) {
	r.anchorMu.RLock()
	defer r.anchorMu.RUnlock()
	for _, a := range r.anchors.All() {
		fn(a)
	}
}

// Counts returns the number of planes, images and anchors.
func (r *Registry) Counts() (planes, images, anchors int) {
	r.mu.RLock()
	planes, images = r.planes.Len(), r.images.Len()
	r.mu.RUnlock()

	r.anchorMu.RLock()
	anchors = r.anchors.Len()
	r.anchorMu.RUnlock()
	return planes, images, anchors
}
