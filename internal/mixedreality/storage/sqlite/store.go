package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/monitoring"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pragmas go into the DSN as _pragma parameters so that every pooled
// connection gets them, not only the first.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(1)",
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

// Store is a recording database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying handle, for the debug SQL console.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// MigrateUp runs all pending migrations. Being at the latest version is
// not an error.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close s.db as well.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version, 0 when unmigrated.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// isSQLiteBusy reports whether err is a transient lock conflict.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn up to five times, backing off exponentially while
// the database reports it is busy. Other errors are returned at once.
func retryOnBusy(fn func() error) error {
	const attempts = 5
	delay := 10 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("database busy after %d attempts: %w", attempts, err)
}

// SessionInfo describes one recorded session.
type SessionInfo struct {
	SessionID   string
	Platform    string
	ARToVRScale float64
	StartedAt   time.Time
}

// BeginSession starts a new recording and returns its id.
func (s *Store) BeginSession(platform string, scale float64, started time.Time) (string, error) {
	id := uuid.NewString()
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`INSERT INTO mr_sessions (session_id, platform, ar_to_vr_scale, started_at) VALUES (?, ?, ?, ?)`,
			id, platform, scale, started.UnixNano())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("begin session: %w", err)
	}
	return id, nil
}

// Sessions lists recordings, newest first.
func (s *Store) Sessions() ([]SessionInfo, error) {
	rows, err := s.db.Query(`SELECT session_id, platform, ar_to_vr_scale, started_at FROM mr_sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var started int64
		if err := rows.Scan(&info.SessionID, &info.Platform, &info.ARToVRScale, &started); err != nil {
			return nil, err
		}
		info.StartedAt = time.Unix(0, started).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// LatestSession returns the most recently started recording.
func (s *Store) LatestSession() (SessionInfo, error) {
	sessions, err := s.Sessions()
	if err != nil {
		return SessionInfo{}, err
	}
	if len(sessions) == 0 {
		return SessionInfo{}, sql.ErrNoRows
	}
	return sessions[0], nil
}

// PlaneRow is a recorded plane.
type PlaneRow struct {
	PlaneID     string
	Handle      string
	Type        string
	State       string
	ParentID    string
	X, Y, Z     float64
	ExtentX     float64
	ExtentZ     float64
	FirstSeen   time.Time
	LastUpdated time.Time
}

// UpsertPlane writes the current state of p.
func (s *Store) UpsertPlane(sessionID string, p *mixedreality.Plane) error {
	var parent interface{}
	if p.Parent() != nil {
		parent = p.Parent().ID
	}
	x, y, z := p.Pose.Translation()
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO mr_planes (
				session_id, plane_id, handle, plane_type, state, parent_id,
				pose_x, pose_y, pose_z, extent_x, extent_z, first_seen, last_updated
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, plane_id) DO UPDATE SET
				plane_type = excluded.plane_type,
				state = excluded.state,
				parent_id = excluded.parent_id,
				pose_x = excluded.pose_x,
				pose_y = excluded.pose_y,
				pose_z = excluded.pose_z,
				extent_x = excluded.extent_x,
				extent_z = excluded.extent_z,
				last_updated = excluded.last_updated`,
			sessionID, p.ID, string(p.Handle), string(p.Type), string(p.State), parent,
			x, y, z, p.ExtentX, p.ExtentZ, p.FirstSeen.UnixNano(), p.LastUpdated.UnixNano(),
		)
		return err
	})
}

// Planes returns the recorded planes of a session in first-seen order.
func (s *Store) Planes(sessionID string) ([]PlaneRow, error) {
	rows, err := s.db.Query(`
		SELECT plane_id, handle, plane_type, state, COALESCE(parent_id, ''),
			pose_x, pose_y, pose_z, extent_x, extent_z, first_seen, last_updated
		FROM mr_planes WHERE session_id = ? ORDER BY first_seen, plane_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlaneRow
	for rows.Next() {
		var r PlaneRow
		var first, last int64
		if err := rows.Scan(&r.PlaneID, &r.Handle, &r.Type, &r.State, &r.ParentID,
			&r.X, &r.Y, &r.Z, &r.ExtentX, &r.ExtentZ, &first, &last); err != nil {
			return nil, err
		}
		r.FirstSeen = time.Unix(0, first).UTC()
		r.LastUpdated = time.Unix(0, last).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertImage writes the current state of img.
func (s *Store) UpsertImage(sessionID string, img *mixedreality.AugmentedImage) error {
	x, y, z := img.Pose.Translation()
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO mr_images (
				session_id, image_id, handle, image_index, name, state,
				pose_x, pose_y, pose_z, first_seen, last_updated
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, image_id) DO UPDATE SET
				state = excluded.state,
				pose_x = excluded.pose_x,
				pose_y = excluded.pose_y,
				pose_z = excluded.pose_z,
				last_updated = excluded.last_updated`,
			sessionID, img.ID, string(img.Handle), img.Index, img.Name, string(img.State),
			x, y, z, img.FirstSeen.UnixNano(), img.LastUpdated.UnixNano(),
		)
		return err
	})
}

// AnchorRow is a recorded anchor.
type AnchorRow struct {
	AnchorID      int64
	State         string
	CloudAnchorID string
	X, Y, Z       float64
}

// UpsertAnchor writes the current state of a.
func (s *Store) UpsertAnchor(sessionID string, a *mixedreality.Anchor) error {
	var cloudID interface{}
	if a.CloudAnchorID != "" {
		cloudID = a.CloudAnchorID
	}
	x, y, z := a.Pose.Translation()
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO mr_anchors (session_id, anchor_id, state, cloud_anchor_id, pose_x, pose_y, pose_z, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, anchor_id) DO UPDATE SET
				state = excluded.state,
				cloud_anchor_id = excluded.cloud_anchor_id,
				pose_x = excluded.pose_x,
				pose_y = excluded.pose_y,
				pose_z = excluded.pose_z,
				last_updated = excluded.last_updated`,
			sessionID, a.ID, string(a.State), cloudID, x, y, z, a.LastUpdated.UnixNano(),
		)
		return err
	})
}

// Anchors returns the recorded anchors of a session by id.
func (s *Store) Anchors(sessionID string) ([]AnchorRow, error) {
	rows, err := s.db.Query(`
		SELECT anchor_id, state, COALESCE(cloud_anchor_id, ''), pose_x, pose_y, pose_z
		FROM mr_anchors WHERE session_id = ? ORDER BY anchor_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnchorRow
	for rows.Next() {
		var r AnchorRow
		if err := rows.Scan(&r.AnchorID, &r.State, &r.CloudAnchorID, &r.X, &r.Y, &r.Z); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Event is one entry of the session event log.
type Event struct {
	ID         int64
	SessionID  string
	Kind       string
	EntityID   string
	State      string
	Detail     string
	RecordedAt time.Time
}

// RecordEvent appends e to the event log.
func (s *Store) RecordEvent(e Event) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO mr_events (session_id, kind, entity_id, state, detail, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.SessionID, e.Kind, e.EntityID, e.State, e.Detail, e.RecordedAt.UnixNano(),
		)
		return err
	})
}

// Events returns the event log of a session in insertion order. An empty
// kind returns every kind.
func (s *Store) Events(sessionID, kind string) ([]Event, error) {
	query := `SELECT event_id, session_id, kind, entity_id, COALESCE(state, ''), COALESCE(detail, ''), recorded_at
		FROM mr_events WHERE session_id = ?`
	args := []interface{}{sessionID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY event_id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var at int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.EntityID, &e.State, &e.Detail, &at); err != nil {
			return nil, err
		}
		e.RecordedAt = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventCounts returns the number of events of each kind in a session.
func (s *Store) EventCounts(sessionID string) (map[string]int, error) {
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM mr_events WHERE session_id = ? GROUP BY kind`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
