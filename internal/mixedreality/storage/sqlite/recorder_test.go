package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/mrsync/internal/config"
	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/pose"
	"github.com/banshee-data/mrsync/internal/mixedreality/reconcile"
	"github.com/banshee-data/mrsync/internal/mixedreality/session"
	"github.com/banshee-data/mrsync/internal/mixedreality/simtracker"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter tallies events so the recording can be checked against what
// listeners actually saw.
type counter struct {
	byKind map[string]int
}

func (c *counter) OnPlaneDetection(*mixedreality.Plane) {
	c.byKind[reconcile.CategoryPlaneDetected]++
}

func (c *counter) OnPlaneStateChange(*mixedreality.Plane, mixedreality.TrackingState) {
	c.byKind[reconcile.CategoryPlaneStateChanged]++
}

func (c *counter) OnPlaneMerging(_, _ *mixedreality.Plane) {
	c.byKind[reconcile.CategoryPlaneMerged]++
}

func (c *counter) OnAugmentedImageDetection(*mixedreality.AugmentedImage) {
	c.byKind[reconcile.CategoryImageDetected]++
}

func (c *counter) OnAugmentedImageStateChange(*mixedreality.AugmentedImage, mixedreality.TrackingState) {
	c.byKind[reconcile.CategoryImageStateChanged]++
}

func TestRecorder_DemoSession(t *testing.T) {
	store := openTestStore(t)
	sim := simtracker.New(t0, 33*time.Millisecond)
	simtracker.Demo(sim)
	s := session.New(sim, simtracker.NewScene(), config.EmptySessionConfig())

	sid, err := store.BeginSession(config.PlatformSim, s.ARToVRScale(), t0)
	require.NoError(t, err)
	rec := NewRecorder(store, sid)
	seen := &counter{byKind: map[string]int{}}

	s.AddPlaneListener(rec)
	s.AddAugmentedImageListener(rec)
	s.AddAnchorListener(rec)
	s.AddPlaneListener(seen)
	s.AddAugmentedImageListener(seen)

	require.NoError(t, s.Resume())
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		require.NoError(t, s.Update(ctx))
	}
	require.NoError(t, rec.Snapshot(s.Registry()))
	assert.Zero(t, rec.Failures())

	counts, err := store.EventCounts(sid)
	require.NoError(t, err)
	assert.Equal(t, seen.byKind, counts)
	assert.Equal(t, 3, counts[reconcile.CategoryPlaneDetected])
	assert.Equal(t, 1, counts[reconcile.CategoryPlaneMerged])

	planes, err := store.Planes(sid)
	require.NoError(t, err)
	require.Len(t, planes, 3)
	byHandle := map[string]PlaneRow{}
	for _, p := range planes {
		byHandle[p.Handle] = p
	}
	assert.Equal(t, byHandle["floor"].PlaneID, byHandle["floor-patch"].ParentID)
	assert.Equal(t, "stopped", byHandle["floor-patch"].State)
	assert.Equal(t, "tracking", byHandle["wall"].State)
	assert.InDelta(t, 200, byHandle["wall"].X, 1e-9)

	merges, err := store.Events(sid, reconcile.CategoryPlaneMerged)
	require.NoError(t, err)
	require.Len(t, merges, 1)
	assert.Equal(t, byHandle["floor"].PlaneID, merges[0].Detail)
}

func TestRecorder_AnchorsAndCloud(t *testing.T) {
	store := openTestStore(t)
	sim := simtracker.New(t0, 33*time.Millisecond)
	s := session.New(sim, nil, config.EmptySessionConfig())
	s.SetEnableCloudAnchor(true)

	sid, err := store.BeginSession(config.PlatformSim, s.ARToVRScale(), t0)
	require.NoError(t, err)
	rec := NewRecorder(store, sid)
	s.AddAnchorListener(rec)

	require.NoError(t, s.Resume())
	a, err := s.CreateAnchor(pose.FromTranslation(10, 0, 0))
	require.NoError(t, err)
	require.NoError(t, s.HostAnchor(a, rec))

	ctx := context.Background()
	require.NoError(t, s.Update(ctx))
	sim.CompleteCloud(tracker.CloudSuccess)
	a.External.(*simtracker.Anchor).SetState(tracker.Paused)
	require.NoError(t, s.Update(ctx))

	counts, err := store.EventCounts(sid)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		reconcile.CategoryAnchorState:       1,
		reconcile.CategoryCloudTaskComplete: 1,
	}, counts)

	anchors, err := store.Anchors(sid)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.Equal(t, a.CloudAnchorID, anchors[0].CloudAnchorID)
	assert.Equal(t, "paused", anchors[0].State)
}

func TestRecorder_WriteFailuresAreCounted(t *testing.T) {
	store := openTestStore(t)
	rec := NewRecorder(store, "missing-session")

	rec.OnPlaneDetection(mixedreality.NewPlane("p"))
	assert.EqualValues(t, 1, rec.Failures())
}
