package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/pose"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnchor struct {
	cloud tracker.CloudState
}

func (a *stubAnchor) Handle() tracker.Handle               { return "stub" }
func (a *stubAnchor) TrackingState() tracker.TrackingState { return tracker.Tracking }
func (a *stubAnchor) Pose() pose.Matrix                    { return pose.Identity() }
func (a *stubAnchor) Detach()                              {}
func (a *stubAnchor) CloudState() tracker.CloudState       { return a.cloud }
func (a *stubAnchor) CloudAnchorID() string                { return "" }

func TestCollection_InsertLookupOrder(t *testing.T) {
	t.Parallel()
	c := NewCollection[string, int]()

	require.NoError(t, c.Insert("b", 2))
	require.NoError(t, c.Insert("a", 1))
	require.NoError(t, c.Insert("c", 3))

	v, ok := c.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Lookup("zzz")
	assert.False(t, ok)

	if diff := cmp.Diff([]int{2, 1, 3}, c.All()); diff != "" {
		t.Errorf("All() order mismatch (-want +got):\n%s", diff)
	}
}

func TestCollection_DuplicateInsertLeavesEntry(t *testing.T) {
	t.Parallel()
	c := NewCollection[string, int]()
	require.NoError(t, c.Insert("a", 1))

	err := c.Insert("a", 99)
	assert.ErrorIs(t, err, mixedreality.ErrDuplicateEntity)

	v, _ := c.Lookup("a")
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, c.Len())
}

func TestCollection_Remove(t *testing.T) {
	t.Parallel()
	c := NewCollection[int64, string]()
	require.NoError(t, c.Insert(1, "one"))
	require.NoError(t, c.Insert(2, "two"))
	require.NoError(t, c.Insert(3, "three"))

	v, err := c.Remove(2)
	require.NoError(t, err)
	assert.Equal(t, "two", v)
	assert.Equal(t, []string{"one", "three"}, c.All())

	_, err = c.Remove(2)
	assert.ErrorIs(t, err, mixedreality.ErrUnknownHandle)
}

func TestRegistry_PlanesAndImages(t *testing.T) {
	t.Parallel()
	r := New()

	p := mixedreality.NewPlane("plane-1")
	require.NoError(t, r.InsertPlane(p))
	assert.ErrorIs(t, r.InsertPlane(mixedreality.NewPlane("plane-1")), mixedreality.ErrDuplicateEntity)

	got, ok := r.Plane("plane-1")
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Len(t, r.Planes(), 1)

	img := mixedreality.NewAugmentedImage("img-1")
	require.NoError(t, r.InsertImage(img))
	gotImg, ok := r.Image("img-1")
	require.True(t, ok)
	assert.Same(t, img, gotImg)

	// Planes and images are independent key spaces.
	require.NoError(t, r.InsertImage(mixedreality.NewAugmentedImage("plane-1")))

	planes, images, anchors := r.Counts()
	assert.Equal(t, [3]int{1, 2, 0}, [3]int{planes, images, anchors})
}

func TestRegistry_AnchorLifecycle(t *testing.T) {
	t.Parallel()
	r := New()

	a := &mixedreality.Anchor{}
	b := &mixedreality.Anchor{}
	assert.Equal(t, int64(1), r.AddAnchor(a))
	assert.Equal(t, int64(2), r.AddAnchor(b))

	removed, cancelled, err := r.RemoveAnchor(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, removed)
	assert.Empty(t, cancelled)

	_, ok := r.Anchor(a.ID)
	assert.False(t, ok, "lookup after removal is absent")

	_, _, err = r.RemoveAnchor(a.ID)
	assert.ErrorIs(t, err, mixedreality.ErrUnknownHandle)

	// IDs are not reused.
	c := &mixedreality.Anchor{}
	assert.Equal(t, int64(3), r.AddAnchor(c))
	var all []*mixedreality.Anchor
	r.EachAnchor(func(a *mixedreality.Anchor) { all = append(all, a) })
	assert.Equal(t, []*mixedreality.Anchor{b, c}, all)
}

func TestRegistry_TakeCompleted(t *testing.T) {
	t.Parallel()
	r := New()

	first := &CloudTask{Kind: CloudHost, Cloud: &stubAnchor{cloud: tracker.CloudInProgress}}
	second := &CloudTask{Kind: CloudResolve, Cloud: &stubAnchor{cloud: tracker.CloudSuccess}}
	third := &CloudTask{Kind: CloudHost, Cloud: &stubAnchor{cloud: tracker.CloudError}}
	r.AddPending(first)
	r.AddPending(second)
	r.AddPending(third)

	done := r.TakeCompleted()
	assert.Equal(t, []*CloudTask{second, third}, done)
	assert.Equal(t, 1, r.PendingCount())

	assert.Empty(t, r.TakeCompleted())

	first.Cloud.(*stubAnchor).cloud = tracker.CloudSuccess
	assert.Equal(t, []*CloudTask{first}, r.TakeCompleted())
	assert.Zero(t, r.PendingCount())
}

func TestRegistry_RemoveAnchorCancelsHostTasks(t *testing.T) {
	t.Parallel()
	r := New()

	a := &mixedreality.Anchor{}
	b := &mixedreality.Anchor{}
	r.AddAnchor(a)
	r.AddAnchor(b)

	hostA := &CloudTask{Kind: CloudHost, Anchor: a, Cloud: &stubAnchor{cloud: tracker.CloudInProgress}}
	hostB := &CloudTask{Kind: CloudHost, Anchor: b, Cloud: &stubAnchor{cloud: tracker.CloudInProgress}}
	resolve := &CloudTask{Kind: CloudResolve, Anchor: &mixedreality.Anchor{}, Cloud: &stubAnchor{cloud: tracker.CloudInProgress}}
	r.AddPending(hostA)
	r.AddPending(resolve)
	r.AddPending(hostB)

	_, cancelled, err := r.RemoveAnchor(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []*CloudTask{hostA}, cancelled)
	assert.Equal(t, 2, r.PendingCount())

	hostB.Cloud.(*stubAnchor).cloud = tracker.CloudSuccess
	resolve.Cloud.(*stubAnchor).cloud = tracker.CloudSuccess
	assert.Equal(t, []*CloudTask{resolve, hostB}, r.TakeCompleted())
}

func TestRegistry_CompleteHost(t *testing.T) {
	t.Parallel()
	r := New()

	original := &stubAnchor{}
	a := &mixedreality.Anchor{External: original}
	r.AddAnchor(a)

	hosted := &stubAnchor{cloud: tracker.CloudSuccess}
	old, ok := r.CompleteHost(&CloudTask{Kind: CloudHost, Anchor: a, Cloud: hosted})
	require.True(t, ok)
	assert.Same(t, original, old)
	assert.Same(t, hosted, a.External)

	_, _, err := r.RemoveAnchor(a.ID)
	require.NoError(t, err)
	late := &stubAnchor{cloud: tracker.CloudSuccess}
	old, ok = r.CompleteHost(&CloudTask{Kind: CloudHost, Anchor: a, Cloud: late})
	assert.False(t, ok, "removed anchors are not rebound")
	assert.Nil(t, old)
	assert.Same(t, hosted, a.External)
}

func TestRegistry_RebindAndSyncAnchors(t *testing.T) {
	t.Parallel()
	r := New()
	now := time.Unix(100, 0)

	first := &stubAnchor{}
	a := &mixedreality.Anchor{State: mixedreality.StatePaused, External: first}
	r.AddAnchor(a)

	changed := r.SyncAnchors(10, now)
	assert.Equal(t, []AnchorTransition{{Anchor: a, State: mixedreality.StateTracking}}, changed)
	assert.Equal(t, now, a.LastUpdated)
	assert.Empty(t, r.SyncAnchors(10, now), "no transition without a state change")

	second := &stubAnchor{}
	old, err := r.RebindAnchor(a.ID, second, 10, now.Add(time.Second))
	require.NoError(t, err)
	assert.Same(t, first, old)
	assert.Same(t, second, a.External)
	assert.Equal(t, now.Add(time.Second), a.LastUpdated)

	_, err = r.RebindAnchor(99, second, 10, now)
	assert.ErrorIs(t, err, mixedreality.ErrUnknownHandle)

	var seen []int64
	r.EachAnchor(func(a *mixedreality.Anchor) { seen = append(seen, a.ID) })
	assert.Equal(t, []int64{a.ID}, seen)
}

func TestRegistry_ConcurrentAnchors(t *testing.T) {
	t.Parallel()
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				a := &mixedreality.Anchor{}
				id := r.AddAnchor(a)
				if j%2 == 0 {
					_, _, _ = r.RemoveAnchor(id)
				}
				r.EachAnchor(func(*mixedreality.Anchor) {})
			}
		}()
	}
	wg.Wait()

	_, _, anchors := r.Counts()
	assert.Equal(t, 8*12, anchors)
}
