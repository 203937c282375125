package mixedreality

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateEntity means a handle was inserted twice. Discovery
	// guards make this a logic defect; the registry is left untouched.
	ErrDuplicateEntity = errors.New("duplicate entity")

	// ErrUnknownHandle means an operation named an entity the registry
	// does not own. It is a caller contract breach.
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrSessionNotActive is returned for operations attempted while the
	// tracking session is paused.
	ErrSessionNotActive = errors.New("session is not resumed")

	// ErrCloudAnchorsDisabled is returned by cloud anchor operations when
	// the session was not configured for them.
	ErrCloudAnchorsDisabled = errors.New("cloud anchors are disabled")
)

// ListenerError records a listener that panicked during fan-out.
type ListenerError struct {
	Category  string
	Listener  any
	Recovered any
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("%s listener %T failed: %v", e.Category, e.Listener, e.Recovered)
}
