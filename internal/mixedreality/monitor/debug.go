package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/banshee-data/mrsync/internal/httputil"
	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/reconcile"
	"github.com/banshee-data/mrsync/internal/mixedreality/session"
	"github.com/banshee-data/mrsync/internal/mixedreality/storage/sqlite"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// Monitor serves debug pages for one session.
type Monitor struct {
	sess *session.Session

	// Optional recording; without it the event chart and SQL console are
	// not mounted.
	store     *sqlite.Store
	sessionID string
}

// New returns a monitor for sess. store may be nil.
func New(sess *session.Session, store *sqlite.Store, sessionID string) *Monitor {
	return &Monitor{sess: sess, store: store, sessionID: sessionID}
}

// Snapshot is the JSON body of the mr-stats page.
type Snapshot struct {
	Active  bool            `json:"active"`
	Planes  int             `json:"planes"`
	Images  int             `json:"images"`
	Anchors int             `json:"anchors"`
	Pending int             `json:"pending_cloud_tasks"`
	Engine  reconcile.Stats `json:"engine"`
	Session string          `json:"recording_session,omitempty"`
}

// Snapshot collects the current counters.
func (m *Monitor) Snapshot() Snapshot {
	planes, images, anchors := m.sess.Registry().Counts()
	return Snapshot{
		Active:  m.sess.Active(),
		Planes:  planes,
		Images:  images,
		Anchors: anchors,
		Pending: m.sess.Registry().PendingCount(),
		Engine:  m.sess.Engine().Stats(),
		Session: m.sessionID,
	}
}

// AnchorInfo is one entry of the mr-anchors page.
type AnchorInfo struct {
	ID      int64      `json:"id"`
	Name    string     `json:"name"`
	State   string     `json:"state"`
	CloudID string     `json:"cloud_id,omitempty"`
	XYZ     [3]float64 `json:"xyz"`
}

// Anchors lists the registered anchors in local space.
func (m *Monitor) Anchors() []AnchorInfo {
	out := []AnchorInfo{}
	m.sess.Registry().EachAnchor(func(a *mixedreality.Anchor) {
		x, y, z := a.Pose.Translation()
		out = append(out, AnchorInfo{
			ID:      a.ID,
			Name:    a.Name(),
			State:   string(a.State),
			CloudID: a.CloudAnchorID,
			XYZ:     [3]float64{x, y, z},
		})
	})
	return out
}

// AttachAdminRoutes mounts the debug pages on mux under /debug/.
func (m *Monitor) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Session active", func() any { return m.sess.Active() })
	debug.KVFunc("Frames", func() any { return m.sess.Engine().Stats().Frames })
	debug.KVFunc("Mirrors (planes/images/anchors)", func() any {
		p, i, a := m.sess.Registry().Counts()
		return fmt.Sprintf("%d / %d / %d", p, i, a)
	})
	debug.KVFunc("Listener failures", func() any { return m.sess.Engine().Stats().ListenerFailures })

	debug.HandleFunc("mr-stats", "Session counters as JSON", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, m.Snapshot())
	})

	debug.HandleFunc("mr-anchors", "Registered anchors as JSON", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, m.Anchors())
	})

	debug.HandleFunc("mr-planes.png", "Top-down map of planes and anchors", func(w http.ResponseWriter, r *http.Request) {
		planes, anchors := MarkersFromRegistry(m.sess.Registry(), m.sess.ARToVRScale())
		var buf bytes.Buffer
		if err := RenderPlaneMap(&buf, "Live planes", planes, anchors); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	})

	if m.store == nil {
		return nil
	}

	debug.HandleFunc("mr-events", "Recorded event counts chart", func(w http.ResponseWriter, r *http.Request) {
		counts, err := m.store.EventCounts(m.sessionID)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to count events: %v", err))
			return
		}
		var buf bytes.Buffer
		if len(counts) == 0 {
			httputil.NotFound(w, "no events recorded yet")
			return
		}
		if err := RenderEventChart(&buf, m.sessionID, counts); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://recording.db", m.store.DB(), &tailsql.DBOptions{
		Label: "Session recording",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	return nil
}
