package simtracker

import (
	"sync"

	"github.com/banshee-data/mrsync/internal/mixedreality"
)

// Node is a named scene node.
type Node struct {
	name string
}

func (n *Node) Name() string { return n.name }

// Scene is an in-memory scene graph.
type Scene struct {
	mu    sync.Mutex
	nodes []*Node
}

func NewScene() *Scene { return &Scene{} }

func (s *Scene) NewNode(name string) mixedreality.SceneNode {
	return &Node{name: name}
}

func (s *Scene) AddNode(n mixedreality.SceneNode) {
	node, ok := n.(*Node)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.nodes {
		if existing == node {
			return
		}
	}
	s.nodes = append(s.nodes, node)
}

func (s *Scene) RemoveNode(n mixedreality.SceneNode) {
	node, ok := n.(*Node)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.nodes {
		if existing == node {
			s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
			return
		}
	}
}

// Names returns the names of attached nodes in attach order.
func (s *Scene) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.nodes))
	for i, n := range s.nodes {
		names[i] = n.name
	}
	return names
}

var _ mixedreality.SceneGraph = (*Scene)(nil)
