// Package fanout provides ordered, synchronous listener lists.
//
// A Fanout holds the subscribers of one event category. Registration
// copies the list (copy-on-write), so Publish iterates an immutable
// snapshot and listeners may subscribe or unsubscribe from any goroutine,
// including from inside a callback, without disturbing a delivery in
// progress.
package fanout

import (
	"errors"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/monitoring"
)

// Fanout is a listener list for one event category. L is usually a
// listener interface. Duplicates are detected with ==, so a listener whose
// dynamic type is not comparable (a struct value holding a slice, say) is
// refused by Subscribe and Unsubscribe rather than panicking.
type Fanout[L comparable] struct {
	category string

	mu        sync.Mutex // serialises writers
	listeners atomic.Pointer[[]L]
	failures  atomic.Int64
}

// New returns an empty Fanout for category.
func New[L comparable](category string) *Fanout[L] {
	f := &Fanout[L]{category: category}
	empty := []L{}
	f.listeners.Store(&empty)
	return f
}

// Category returns the event category name.
func (f *Fanout[L]) Category() string { return f.category }

// Subscribe appends l. Subscribing a listener that is already present, a
// nil listener or one that cannot be compared is a no-op and returns false.
func (f *Fanout[L]) Subscribe(l L) bool {
	if !usable(l) {
		if v := reflect.ValueOf(l); v.IsValid() {
			monitoring.Logf("[fanout] %s: refusing non-comparable listener %T", f.category, l)
		}
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cur := *f.listeners.Load()
	for _, existing := range cur {
		if existing == l {
			return false
		}
	}
	next := make([]L, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, l)
	f.listeners.Store(&next)
	return true
}

// Unsubscribe removes every registration of l and reports whether any
// were found.
func (f *Fanout[L]) Unsubscribe(l L) bool {
	if !usable(l) {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	cur := *f.listeners.Load()
	next := make([]L, 0, len(cur))
	for _, existing := range cur {
		if existing != l {
			next = append(next, existing)
		}
	}
	if len(next) == len(cur) {
		return false
	}
	f.listeners.Store(&next)
	return true
}

// usable reports whether l is non-nil and its dynamic value supports ==.
// Comparing two interface values of the same non-comparable type panics,
// so such listeners never enter a list.
func usable[L comparable](l L) bool {
	var zero L
	if l == zero {
		return false
	}
	return reflect.ValueOf(l).Comparable()
}

// Len returns the number of subscribers.
func (f *Fanout[L]) Len() int { return len(*f.listeners.Load()) }

// Empty reports whether there are no subscribers.
func (f *Fanout[L]) Empty() bool { return f.Len() == 0 }

// Snapshot returns the current subscribers in subscription order.
func (f *Fanout[L]) Snapshot() []L {
	cur := *f.listeners.Load()
	out := make([]L, len(cur))
	copy(out, cur)
	return out
}

// Failures returns how many listener calls have panicked so far.
func (f *Fanout[L]) Failures() int64 { return f.failures.Load() }

// Publish calls deliver once per subscriber, in subscription order, on the
// calling goroutine. A listener that panics is recovered and logged, and
// delivery continues with the next one. The returned error joins one
// *mixedreality.ListenerError per failed listener, or is nil.
func (f *Fanout[L]) Publish(deliver func(L)) error {
	var errs []error
	for _, l := range *f.listeners.Load() {
		if err := f.safeCall(l, deliver); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout[L]) safeCall(l L, deliver func(L)) error {
	err := Deliver(f.category, l, deliver)
	if err != nil {
		f.failures.Add(1)
	}
	return err
}

// Deliver calls deliver for a single listener with the same panic
// isolation as Publish. It is used for one-shot callbacks that are not
// kept in a list.
func Deliver[L any](category string, l L, deliver func(L)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("[fanout] %s listener %T panicked: %v\n%s", category, l, r, debug.Stack())
			err = &mixedreality.ListenerError{Category: category, Listener: l, Recovered: r}
		}
	}()
	deliver(l)
	return nil
}
