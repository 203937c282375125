package registry

import (
	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
)

// CloudTaskKind distinguishes hosting an existing anchor from resolving a
// cloud anchor id into a new one.
type CloudTaskKind string

const (
	CloudHost    CloudTaskKind = "host"
	CloudResolve CloudTaskKind = "resolve"
)

// CloudTask is a host or resolve request waiting for the tracker.
type CloudTask struct {
	Kind CloudTaskKind

	// Anchor is the mirror the task belongs to. For CloudHost it is an
	// owned anchor; for CloudResolve it is registered only on success.
	Anchor *mixedreality.Anchor

	// Cloud is the tracker anchor whose CloudState is being polled.
	Cloud tracker.Anchor

	Listener mixedreality.CloudAnchorListener
}

// AddPending queues a cloud task.
func (r *Registry) AddPending(task *CloudTask) {
	r.anchorMu.Lock()
	defer r.anchorMu.Unlock()
	r.pending = append(r.pending, task)
}

// TakeCompleted removes and returns the tasks whose cloud state is
// terminal, in the order they were queued.
func (r *Registry) TakeCompleted() []*CloudTask {
	r.anchorMu.Lock()
	defer r.anchorMu.Unlock()

	var done []*CloudTask
	remaining := r.pending[:0]
	for _, task := range r.pending {
		if task.Cloud.CloudState().Terminal() {
			done = append(done, task)
		} else {
			remaining = append(remaining, task)
		}
	}
	for i := len(remaining); i < len(r.pending); i++ {
		r.pending[i] = nil
	}
	r.pending = remaining
	return done
}

// PendingCount returns the number of queued cloud tasks.
func (r *Registry) PendingCount() int {
	r.anchorMu.RLock()
	defer r.anchorMu.RUnlock()
	return len(r.pending)
}

// CompleteHost binds a successful host task to its anchor: the hosted
// tracker anchor replaces the anchor's External and its cloud id is
// recorded. It returns the replaced tracker anchor, and false when the
// anchor was removed before the task finished.
func (r *Registry) CompleteHost(task *CloudTask) (tracker.Anchor, bool) {
	r.anchorMu.Lock()
	defer r.anchorMu.Unlock()
	a := task.Anchor
	if owned, ok := r.anchors.Lookup(a.ID); !ok || owned != a {
		return nil, false
	}
	old := a.External
	a.External = task.Cloud
	a.CloudAnchorID = task.Cloud.CloudAnchorID()
	return old, true
}

// cancelPendingLocked drops the host tasks queued for a. Resolve tasks
// never belong to an owned anchor. The caller holds anchorMu.
func (r *Registry) cancelPendingLocked(a *mixedreality.Anchor) []*CloudTask {
	var cancelled []*CloudTask
	remaining := r.pending[:0]
	for _, task := range r.pending {
		if task.Kind == CloudHost && task.Anchor == a {
			cancelled = append(cancelled, task)
		} else {
			remaining = append(remaining, task)
		}
	}
	for i := len(remaining); i < len(r.pending); i++ {
		r.pending[i] = nil
	}
	r.pending = remaining
	return cancelled
}
