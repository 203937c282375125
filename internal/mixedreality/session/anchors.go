package session

import (
	"fmt"
	"time"

	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/pose"
	"github.com/banshee-data/mrsync/internal/mixedreality/registry"
)

// CreateAnchor fixes a new anchor at p, given in local world space.
func (s *Session) CreateAnchor(p pose.Matrix) (*mixedreality.Anchor, error) {
	if err := s.requireActive(); err != nil {
		return nil, err
	}
	ext, err := s.backend.CreateAnchor(pose.ToTracker(p, s.scale))
	if err != nil {
		return nil, fmt.Errorf("create anchor: %w", err)
	}
	a := &mixedreality.Anchor{
		State:    ext.TrackingState(),
		External: ext,
	}
	a.Sync(s.scale, time.Now())
	s.reg.AddAnchor(a)
	return a, nil
}

// CreateAnchorNode creates an anchor and attaches a scene node for it.
func (s *Session) CreateAnchorNode(p pose.Matrix) (mixedreality.SceneNode, *mixedreality.Anchor, error) {
	if s.scene == nil {
		return nil, nil, fmt.Errorf("create anchor node: no scene graph")
	}
	a, err := s.CreateAnchor(p)
	if err != nil {
		return nil, nil, err
	}
	node := s.scene.NewNode(a.Name())
	a.Node = node
	s.scene.AddNode(node)
	return node, a, nil
}

// owned returns nil when a is the registered anchor with its ID.
func (s *Session) owned(a *mixedreality.Anchor) error {
	if a == nil {
		return fmt.Errorf("anchor <nil>: %w", mixedreality.ErrUnknownHandle)
	}
	if got, ok := s.reg.Anchor(a.ID); !ok || got != a {
		return fmt.Errorf("anchor %d: %w", a.ID, mixedreality.ErrUnknownHandle)
	}
	return nil
}

// UpdateAnchorPose moves a to p by replacing its tracker anchor.
func (s *Session) UpdateAnchorPose(a *mixedreality.Anchor, p pose.Matrix) error {
	if err := s.requireActive(); err != nil {
		return err
	}
	if err := s.owned(a); err != nil {
		return err
	}
	ext, err := s.backend.CreateAnchor(pose.ToTracker(p, s.scale))
	if err != nil {
		return fmt.Errorf("update anchor %d: %w", a.ID, err)
	}
	old, err := s.reg.RebindAnchor(a.ID, ext, s.scale, time.Now())
	if err != nil {
		ext.Detach()
		return fmt.Errorf("update anchor: %w", err)
	}
	if old != nil {
		old.Detach()
	}
	return nil
}

// RemoveAnchor detaches a, stops tracking it and removes its scene node.
// A host task still pending for a is cancelled and its listener is never
// called. Removing an anchor twice fails with ErrUnknownHandle.
func (s *Session) RemoveAnchor(a *mixedreality.Anchor) error {
	if err := s.requireActive(); err != nil {
		return err
	}
	if err := s.owned(a); err != nil {
		return err
	}
	_, cancelled, err := s.reg.RemoveAnchor(a.ID)
	if err != nil {
		return fmt.Errorf("remove anchor: %w", err)
	}
	// Nothing else writes a once it is out of the registry.
	for _, task := range cancelled {
		if task.Cloud != a.External {
			task.Cloud.Detach()
		}
	}
	if a.External != nil {
		a.External.Detach()
	}
	if a.Node != nil && s.scene != nil {
		s.scene.RemoveNode(a.Node)
	}
	return nil
}

// SetEnableCloudAnchor turns cloud anchor hosting and resolving on or off.
func (s *Session) SetEnableCloudAnchor(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cloud = enable
}

func (s *Session) cloudEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloud
}

// HostAnchor uploads a to the cloud. listener is told once when the task
// finishes; on success a follows the hosted tracker anchor and carries
// its cloud id.
func (s *Session) HostAnchor(a *mixedreality.Anchor, listener mixedreality.CloudAnchorListener) error {
	if !s.cloudEnabled() {
		return mixedreality.ErrCloudAnchorsDisabled
	}
	if err := s.owned(a); err != nil {
		return err
	}
	ext, err := s.reg.External(a.ID)
	if err != nil {
		return fmt.Errorf("host anchor: %w", err)
	}
	hosted, err := s.backend.HostCloudAnchor(ext)
	if err != nil {
		return fmt.Errorf("host anchor %d: %w", a.ID, err)
	}
	s.reg.AddPending(&registry.CloudTask{Kind: registry.CloudHost, Anchor: a, Cloud: hosted, Listener: listener})
	return nil
}

// ResolveCloudAnchor recreates the anchor with cloudID. On success the new
// anchor is registered before listener is told.
func (s *Session) ResolveCloudAnchor(cloudID string, listener mixedreality.CloudAnchorListener) error {
	if !s.cloudEnabled() {
		return mixedreality.ErrCloudAnchorsDisabled
	}
	ext, err := s.backend.ResolveCloudAnchor(cloudID)
	if err != nil {
		return fmt.Errorf("resolve cloud anchor %q: %w", cloudID, err)
	}
	a := &mixedreality.Anchor{CloudAnchorID: cloudID}
	s.reg.AddPending(&registry.CloudTask{Kind: registry.CloudResolve, Anchor: a, Cloud: ext, Listener: listener})
	return nil
}
