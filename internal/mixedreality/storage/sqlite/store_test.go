package sqlite

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/pose"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
	"github.com/banshee-data/mrsync/internal/monitoring"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })

	s, err := Open(filepath.Join(t.TempDir(), "recording.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigratesToLatest(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Running again is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestOpen_PragmasOnEveryConnection(t *testing.T) {
	s := openTestStore(t)
	s.DB().SetMaxIdleConns(0) // force fresh connections

	for i := 0; i < 3; i++ {
		var fk int
		require.NoError(t, s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 1, fk)

		var mode string
		require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recording.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.BeginSession("sim", 100, t0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	latest, err := s.LatestSession()
	require.NoError(t, err)
	assert.Equal(t, id, latest.SessionID)
}

func TestSessions(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LatestSession()
	assert.Error(t, err)

	older, err := s.BeginSession("sim", 100, t0)
	require.NoError(t, err)
	newer, err := s.BeginSession("sim", 50, t0.Add(time.Hour))
	require.NoError(t, err)

	sessions, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer, sessions[0].SessionID)
	assert.Equal(t, older, sessions[1].SessionID)
	assert.Equal(t, 50.0, sessions[0].ARToVRScale)
	assert.Equal(t, t0.Add(time.Hour), sessions[0].StartedAt)
}

func TestUpsertPlane(t *testing.T) {
	s := openTestStore(t)
	sid, err := s.BeginSession("sim", 100, t0)
	require.NoError(t, err)

	parent := mixedreality.NewPlane("parent")
	parent.Type = tracker.HorizontalUpwardFacing
	parent.State = mixedreality.StateTracking
	parent.FirstSeen, parent.LastUpdated = t0, t0

	child := mixedreality.NewPlane("child")
	child.Type = tracker.HorizontalUpwardFacing
	child.State = mixedreality.StateTracking
	child.Pose = pose.FromTranslation(1, 2, 3)
	child.ExtentX, child.ExtentZ = 0.5, 0.25
	child.FirstSeen, child.LastUpdated = t0.Add(time.Second), t0.Add(time.Second)

	require.NoError(t, s.UpsertPlane(sid, parent))
	require.NoError(t, s.UpsertPlane(sid, child))

	child.SetParent(parent)
	child.State = mixedreality.StatePaused
	child.LastUpdated = t0.Add(2 * time.Second)
	require.NoError(t, s.UpsertPlane(sid, child))

	rows, err := s.Planes(sid)
	require.NoError(t, err)
	want := []PlaneRow{
		{PlaneID: parent.ID, Handle: "parent", Type: "horizontal_upward_facing", State: "tracking", FirstSeen: t0, LastUpdated: t0},
		{
			PlaneID: child.ID, Handle: "child", Type: "horizontal_upward_facing", State: "paused", ParentID: parent.ID,
			X: 1, Y: 2, Z: 3, ExtentX: 0.5, ExtentZ: 0.25,
			FirstSeen: t0.Add(time.Second), LastUpdated: t0.Add(2 * time.Second),
		},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("Planes() mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertAnchor(t *testing.T) {
	s := openTestStore(t)
	sid, err := s.BeginSession("sim", 100, t0)
	require.NoError(t, err)

	a := &mixedreality.Anchor{ID: 3, State: mixedreality.StateTracking, Pose: pose.FromTranslation(4, 5, 6)}
	require.NoError(t, s.UpsertAnchor(sid, a))
	a.CloudAnchorID = "cloud-3"
	a.State = mixedreality.StateStopped
	require.NoError(t, s.UpsertAnchor(sid, a))

	rows, err := s.Anchors(sid)
	require.NoError(t, err)
	assert.Equal(t, []AnchorRow{{AnchorID: 3, State: "stopped", CloudAnchorID: "cloud-3", X: 4, Y: 5, Z: 6}}, rows)
}

func TestUpsert_UnknownSessionFails(t *testing.T) {
	s := openTestStore(t)
	err := s.UpsertAnchor("nope", &mixedreality.Anchor{ID: 1})
	assert.Error(t, err, "foreign keys are enforced")
}

func TestEvents(t *testing.T) {
	s := openTestStore(t)
	sid, err := s.BeginSession("sim", 100, t0)
	require.NoError(t, err)
	other, err := s.BeginSession("sim", 100, t0)
	require.NoError(t, err)

	for i, kind := range []string{"plane-detected", "plane-detected", "plane-merged"} {
		require.NoError(t, s.RecordEvent(Event{SessionID: sid, Kind: kind, EntityID: "p", RecordedAt: t0.Add(time.Duration(i) * time.Second)}))
	}
	require.NoError(t, s.RecordEvent(Event{SessionID: other, Kind: "plane-detected", EntityID: "q", RecordedAt: t0}))

	all, err := s.Events(sid, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, t0.Add(2*time.Second), all[2].RecordedAt)

	merged, err := s.Events(sid, "plane-merged")
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "p", merged[0].EntityID)

	counts, err := s.EventCounts(sid)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"plane-detected": 2, "plane-merged": 1}, counts)
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isSQLiteBusy(tt.err))
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")

	t.Run("success after retry", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-busy error fails immediately", func(t *testing.T) {
		calls := 0
		other := errors.New("some other error")
		err := retryOnBusy(func() error {
			calls++
			return other
		})
		assert.Same(t, other, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return busy
		})
		assert.ErrorIs(t, err, busy)
		assert.Equal(t, 5, calls)
	})
}
