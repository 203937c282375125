package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/mrsync/internal/config"
	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/monitor"
	"github.com/banshee-data/mrsync/internal/mixedreality/reconcile"
	"github.com/banshee-data/mrsync/internal/mixedreality/session"
	"github.com/banshee-data/mrsync/internal/mixedreality/simtracker"
	"github.com/banshee-data/mrsync/internal/mixedreality/storage/sqlite"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a session against the scripted demo room",
	Long: `Run a tracking session against the simulated tracker playing the demo
room: a floor that absorbs a second patch, a wall and poster that lose
and regain tracking, and a dimming light.

An anchor is pinned to every horizontal plane when it is first detected
and hosted to the cloud when cloud anchors are enabled.

With --frames 0 the session runs at the configured frame interval until
interrupted. --serve starts the debug pages and the gRPC health service
on the configured listen addresses.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

var (
	simFrames int
	simRecord string
	simServe  bool
	simCloud  bool
	simJSON   bool
)

func init() {
	simulateCmd.Flags().IntVarP(&simFrames, "frames", "n", 60, "frames to run (0 runs until interrupted)")
	simulateCmd.Flags().StringVar(&simRecord, "record", "", "record events to this SQLite file (overrides record_db)")
	simulateCmd.Flags().BoolVar(&simServe, "serve", false, "serve debug pages and gRPC health while running")
	simulateCmd.Flags().BoolVar(&simCloud, "cloud", false, "enable cloud anchors (overrides enable_cloud_anchors)")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false, "print the summary as JSON")
	rootCmd.AddCommand(simulateCmd)
}

// cloudCompleteFrame is when the simulated cloud finishes hosting.
const cloudCompleteFrame = 25

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("record") {
		cfg.RecordDB = &simRecord
	}
	if cmd.Flags().Changed("cloud") {
		cfg.EnableCloudAnchors = &simCloud
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim, err := newBackend(cfg)
	if err != nil {
		return err
	}
	sess := session.New(sim, simtracker.NewScene(), cfg)

	placer := &anchorPlacer{sess: sess}
	sess.AddPlaneListener(placer)

	var (
		store *sqlite.Store
		rec   *sqlite.Recorder
	)
	if path := cfg.GetRecordDB(); path != "" {
		store, err = sqlite.Open(path)
		if err != nil {
			return fmt.Errorf("open recording: %w", err)
		}
		defer store.Close()

		sid, err := store.BeginSession(cfg.GetPlatform(), cfg.GetARToVRScale(), time.Now())
		if err != nil {
			return fmt.Errorf("begin recording: %w", err)
		}
		rec = sqlite.NewRecorder(store, sid)
		sess.AddPlaneListener(rec)
		sess.AddAugmentedImageListener(rec)
		sess.AddAnchorListener(rec)
		placer.cloud = rec
		logf("recording session %s to %s", sid, path)
	}

	var wg sync.WaitGroup
	serveCtx, stopServing := context.WithCancel(ctx)
	defer func() {
		stopServing()
		wg.Wait()
	}()
	if simServe {
		sid := ""
		if rec != nil {
			sid = rec.SessionID()
		}
		serveDebug(serveCtx, &wg, cfg, sess, store, sid)
	}

	if err := sess.Resume(); err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	if simFrames > 0 {
		for i := 1; i <= simFrames; i++ {
			if err := sess.Update(ctx); err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
		}
	} else if err := sess.Run(ctx, 0); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := sess.Pause(); err != nil {
		return fmt.Errorf("pause session: %w", err)
	}

	if rec != nil {
		if err := rec.Snapshot(sess.Registry()); err != nil {
			return fmt.Errorf("final snapshot: %w", err)
		}
	}

	summary := summarize(sim.FrameCount(), sess, placer, rec)
	if simJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

// newBackend builds the tracker for cfg's platform. Only the simulator
// ships with this module.
func newBackend(cfg *config.SessionConfig) (*simtracker.Tracker, error) {
	if p := cfg.GetPlatform(); p != config.PlatformSim {
		return nil, fmt.Errorf("platform %q: %w", p, config.ErrUnsupportedPlatform)
	}
	sim := simtracker.New(time.Now(), cfg.GetFrameInterval())
	simtracker.Demo(sim)
	if cfg.GetEnableCloudAnchors() {
		sim.Script(simtracker.Step{Frame: cloudCompleteFrame, Apply: func(t *simtracker.Tracker) {
			t.CompleteCloud(tracker.CloudSuccess)
		}})
	}
	return sim, nil
}

func serveDebug(ctx context.Context, wg *sync.WaitGroup, cfg *config.SessionConfig, sess *session.Session, store *sqlite.Store, sid string) {
	health := monitor.NewHealth()
	sess.OnActiveChange(health.SetSessionActive)

	if addr := cfg.GetHealthListen(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := health.Serve(ctx, addr); err != nil {
				logf("health server: %v", err)
			}
		}()
	}
	if addr := cfg.GetDebugListen(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitor.New(sess, store, sid).Serve(ctx, addr); err != nil {
				logf("debug server: %v", err)
			}
		}()
	}
}

// anchorPlacer pins an anchor node to each horizontal plane when it is
// first detected, then tries to host it.
type anchorPlacer struct {
	sess  *session.Session
	cloud mixedreality.CloudAnchorListener // optional, told after the placer

	mu     sync.Mutex
	placed int
	hosted int
	failed int
}

func (p *anchorPlacer) OnPlaneDetection(pl *mixedreality.Plane) {
	if pl.Type != tracker.HorizontalUpwardFacing {
		return
	}
	_, a, err := p.sess.CreateAnchorNode(pl.Pose)
	if err != nil {
		logf("anchor for %s: %v", pl.ID, err)
		return
	}
	p.mu.Lock()
	p.placed++
	p.mu.Unlock()

	err = p.sess.HostAnchor(a, p)
	if err != nil && !errors.Is(err, mixedreality.ErrCloudAnchorsDisabled) {
		logf("host %s: %v", a.Name(), err)
	}
}

func (p *anchorPlacer) OnPlaneStateChange(*mixedreality.Plane, mixedreality.TrackingState) {}
func (p *anchorPlacer) OnPlaneMerging(_, _ *mixedreality.Plane)                            {}

func (p *anchorPlacer) OnTaskComplete(a *mixedreality.Anchor, state tracker.CloudState) {
	p.mu.Lock()
	if state == tracker.CloudSuccess {
		p.hosted++
	} else {
		p.failed++
	}
	p.mu.Unlock()
	if p.cloud != nil {
		p.cloud.OnTaskComplete(a, state)
	}
}

type simSummary struct {
	Frames        int                        `json:"frames"`
	Planes        int                        `json:"planes"`
	MergedPlanes  int                        `json:"merged_planes"`
	Images        int                        `json:"images"`
	Anchors       int                        `json:"anchors"`
	AnchorsHosted int                        `json:"anchors_hosted"`
	HostFailures  int                        `json:"host_failures"`
	Light         mixedreality.LightEstimate `json:"light"`
	Engine        reconcile.Stats            `json:"engine"`
	Recording     string                     `json:"recording_session,omitempty"`
	WriteFailures int64                      `json:"write_failures,omitempty"`
}

func summarize(frames int, sess *session.Session, placer *anchorPlacer, rec *sqlite.Recorder) simSummary {
	reg := sess.Registry()
	planes, images, anchors := reg.Counts()
	merged := 0
	for _, p := range reg.Planes() {
		if p.Merged() {
			merged++
		}
	}

	placer.mu.Lock()
	hosted, failed := placer.hosted, placer.failed
	placer.mu.Unlock()

	s := simSummary{
		Frames:        frames,
		Planes:        planes,
		MergedPlanes:  merged,
		Images:        images,
		Anchors:       anchors,
		AnchorsHosted: hosted,
		HostFailures:  failed,
		Light:         sess.Engine().LightEstimate(),
		Engine:        sess.Engine().Stats(),
	}
	if rec != nil {
		s.Recording = rec.SessionID()
		s.WriteFailures = rec.Failures()
	}
	return s
}

func printSummary(w io.Writer, s simSummary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SIMULATION SUMMARY")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	fmt.Fprintf(w, "Frames:    %d\n", s.Frames)
	fmt.Fprintf(w, "Planes:    %d (%d merged)\n", s.Planes, s.MergedPlanes)
	fmt.Fprintf(w, "Images:    %d\n", s.Images)
	fmt.Fprintf(w, "Anchors:   %d (%d hosted, %d host failures)\n", s.Anchors, s.AnchorsHosted, s.HostFailures)
	fmt.Fprintf(w, "Light:     %s %.2f\n", s.Light.State, s.Light.PixelIntensity)
	fmt.Fprintf(w, "Listener failures: %d\n", s.Engine.ListenerFailures)
	if s.Recording != "" {
		fmt.Fprintf(w, "Recording: %s (%d write failures)\n", s.Recording, s.WriteFailures)
	}
}
