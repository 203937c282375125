// Package session is the application-facing entry point: it owns the
// tracker backend, the mirror registry and the reconciliation engine, and
// gates every tracking operation on the session being resumed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/mrsync/internal/config"
	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/pose"
	"github.com/banshee-data/mrsync/internal/mixedreality/reconcile"
	"github.com/banshee-data/mrsync/internal/mixedreality/registry"
	"github.com/banshee-data/mrsync/internal/mixedreality/tracker"
	"github.com/banshee-data/mrsync/internal/monitoring"
)

var logf = monitoring.Tagged("session")

// Session is one mixed-reality tracking session. It starts paused.
type Session struct {
	backend tracker.Backend
	scene   mixedreality.SceneGraph
	reg     *registry.Registry
	engine  *reconcile.Engine

	scale         float64
	frameInterval time.Duration

	mu      sync.RWMutex
	resumed bool
	cloud   bool
	hooks   []func(active bool)
}

// New creates a paused session over backend. scene may be nil when the
// application never asks for anchor nodes.
func New(backend tracker.Backend, scene mixedreality.SceneGraph, cfg *config.SessionConfig) *Session {
	if cfg == nil {
		cfg = config.EmptySessionConfig()
	}
	reg := registry.New()
	return &Session{
		backend:       backend,
		scene:         scene,
		reg:           reg,
		engine:        reconcile.New(reg, reconcile.NewNotifier()),
		scale:         cfg.GetARToVRScale(),
		frameInterval: cfg.GetFrameInterval(),
		cloud:         cfg.GetEnableCloudAnchors(),
	}
}

// Engine exposes the reconciliation engine, mainly for its Stats.
func (s *Session) Engine() *reconcile.Engine { return s.engine }

// Registry exposes the mirror registry.
func (s *Session) Registry() *registry.Registry { return s.reg }

// ARToVRScale is the tracker-to-local unit scale.
func (s *Session) ARToVRScale() float64 { return s.scale }

// OnActiveChange registers fn to be called after every resume or pause.
func (s *Session) OnActiveChange(fn func(active bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Active reports whether the session is resumed.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumed
}

// Resume starts tracking. Resuming a resumed session is a no-op.
func (s *Session) Resume() error {
	return s.setActive(true)
}

// Pause stops tracking. Pausing a paused session is a no-op.
func (s *Session) Pause() error {
	return s.setActive(false)
}

func (s *Session) setActive(active bool) error {
	s.mu.Lock()
	if s.resumed == active {
		s.mu.Unlock()
		return nil
	}
	var err error
	if active {
		err = s.backend.Resume()
	} else {
		err = s.backend.Pause()
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("set session active=%t: %w", active, err)
	}
	s.resumed = active
	hooks := append([]func(bool){}, s.hooks...)
	s.mu.Unlock()

	logf("session active=%t", active)
	for _, fn := range hooks {
		fn(active)
	}
	return nil
}

func (s *Session) requireActive() error {
	if !s.Active() {
		return mixedreality.ErrSessionNotActive
	}
	return nil
}

// Update pulls one frame from the tracker and reconciles it.
func (s *Session) Update(ctx context.Context) error {
	if err := s.requireActive(); err != nil {
		return err
	}
	frame, err := s.backend.Update(ctx)
	if err != nil {
		return fmt.Errorf("tracker update: %w", err)
	}
	s.engine.Update(frame, s.scale)
	return nil
}

// Run calls Update every interval until ctx is done. Frames are skipped
// while the session is paused. A zero interval uses the configured one.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.frameInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := s.Update(ctx)
			switch {
			case err == nil, errors.Is(err, mixedreality.ErrSessionNotActive):
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				logf("frame update failed: %v", err)
			}
		}
	}
}

// AddPlaneListener subscribes l to every plane event. Listeners are told
// apart with ==, so l should be a pointer or another comparable value;
// a listener of a non-comparable type is ignored. The same holds for the
// other Add*Listener methods.
func (s *Session) AddPlaneListener(l mixedreality.PlaneEventsListener) {
	s.engine.Notifier().SubscribePlane(l)
}

func (s *Session) RemovePlaneListener(l mixedreality.PlaneEventsListener) {
	s.engine.Notifier().UnsubscribePlane(l)
}

// AddAnchorListener subscribes l to anchor state changes.
func (s *Session) AddAnchorListener(l mixedreality.AnchorEventsListener) {
	s.engine.Notifier().SubscribeAnchor(l)
}

func (s *Session) RemoveAnchorListener(l mixedreality.AnchorEventsListener) {
	s.engine.Notifier().UnsubscribeAnchor(l)
}

// AddAugmentedImageListener subscribes l to every image event.
func (s *Session) AddAugmentedImageListener(l mixedreality.AugmentedImageEventsListener) {
	s.engine.Notifier().SubscribeImage(l)
}

func (s *Session) RemoveAugmentedImageListener(l mixedreality.AugmentedImageEventsListener) {
	s.engine.Notifier().UnsubscribeImage(l)
}

// AllPlanes returns every plane mirror in admission order.
func (s *Session) AllPlanes() ([]*mixedreality.Plane, error) {
	if err := s.requireActive(); err != nil {
		return nil, err
	}
	return s.reg.Planes(), nil
}

// AllAugmentedImages returns every image mirror. Unlike planes it is
// available while paused.
func (s *Session) AllAugmentedImages() []*mixedreality.AugmentedImage {
	return s.reg.Images()
}

// SetAugmentedImages replaces the reference image database.
func (s *Session) SetAugmentedImages(images []tracker.ReferenceImage) error {
	if err := s.backend.SetAugmentedImages(images); err != nil {
		return fmt.Errorf("set augmented images: %w", err)
	}
	return nil
}

// LightEstimate returns the light estimate of the latest frame.
func (s *Session) LightEstimate() (mixedreality.LightEstimate, error) {
	if err := s.requireActive(); err != nil {
		return mixedreality.LightEstimate{}, err
	}
	return s.engine.LightEstimate(), nil
}

// HitTest casts a ray through screen point (x, y) and returns the nearest
// hit on a plane, or nil when nothing valid was hit.
func (s *Session) HitTest(x, y float64) (*mixedreality.HitResult, error) {
	if err := s.requireActive(); err != nil {
		return nil, err
	}
	candidates, err := s.backend.HitTest(x, y)
	if err != nil {
		return nil, fmt.Errorf("tracker hit test: %w", err)
	}
	res, ok := s.engine.HitTest(candidates, s.scale)
	if !ok {
		return nil, nil
	}
	return res, nil
}

// MakeInterpolated blends two local poses.
func (s *Session) MakeInterpolated(a, b pose.Matrix, t float64) pose.Matrix {
	return pose.Interpolate(a, b, t)
}
