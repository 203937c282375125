package registry

import (
	"fmt"

	"github.com/banshee-data/mrsync/internal/mixedreality"
)

// Collection is an insertion-ordered map. All returns entries in the
// order they were inserted, which keeps per-frame iteration (and so event
// order) deterministic. It is not safe for concurrent use on its own.
type Collection[K comparable, V any] struct {
	items map[K]V
	order []K
}

// NewCollection returns an empty collection.
func NewCollection[K comparable, V any]() *Collection[K, V] {
	return &Collection[K, V]{items: make(map[K]V)}
}

// Lookup returns the entry for k.
func (c *Collection[K, V]) Lookup(k K) (V, bool) {
	v, ok := c.items[k]
	return v, ok
}

// Insert adds v under k. If k is already present the collection is left
// unchanged and an error wrapping ErrDuplicateEntity is returned.
func (c *Collection[K, V]) Insert(k K, v V) error {
	if _, exists := c.items[k]; exists {
		return fmt.Errorf("insert %v: %w", k, mixedreality.ErrDuplicateEntity)
	}
	c.items[k] = v
	c.order = append(c.order, k)
	return nil
}

// Remove evicts k and returns its entry. Removing an absent key returns an
// error wrapping ErrUnknownHandle.
func (c *Collection[K, V]) Remove(k K) (V, error) {
	v, ok := c.items[k]
	if !ok {
		var zero V
		return zero, fmt.Errorf("remove %v: %w", k, mixedreality.ErrUnknownHandle)
	}
	delete(c.items, k)
	for i, key := range c.order {
		if key == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return v, nil
}

// All returns the entries in insertion order.
func (c *Collection[K, V]) All() []V {
	out := make([]V, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.items[k])
	}
	return out
}

// Len returns the number of entries.
func (c *Collection[K, V]) Len() int { return len(c.order) }
