// Package core implements the tools shared by the components of the ledger.
package core

import "sync"

// Observer is the interface to implement to watch events.
type Observer interface {
	NotifyCallback(event interface{})
}

// Observable provides primitives to add and remove observers and to notify
// them of new events.
type Observable interface {
	// Add adds the observer to the list of observers notified of new events.
	Add(observer Observer)

	// Remove removes the observer. It is not called anymore once Remove
	// returns.
	Remove(observer Observer)

	// Notify notifies the observers of a new event.
	Notify(event interface{})
}

// Watcher is an implementation of the Observable interface. The callbacks run
// while the watcher is locked, so an observer removed by Remove is never called
// afterwards and a callback must not block.
//
// - implements core.Observable
type Watcher struct {
	sync.RWMutex

	observers map[Observer]struct{}
}

// NewWatcher creates a new empty watcher.
func NewWatcher() *Watcher {
	return &Watcher{
		observers: make(map[Observer]struct{}),
	}
}

// Add implements core.Observable. Adding the same observer twice has no
// effect.
func (w *Watcher) Add(observer Observer) {
	w.Lock()
	w.observers[observer] = struct{}{}
	w.Unlock()
}

// Remove implements core.Observable.
func (w *Watcher) Remove(observer Observer) {
	w.Lock()
	delete(w.observers, observer)
	w.Unlock()
}

// Len returns the number of observers.
func (w *Watcher) Len() int {
	w.RLock()
	defer w.RUnlock()

	return len(w.observers)
}

// Notify implements core.Observable. It notifies the observers one after the
// other.
func (w *Watcher) Notify(event interface{}) {
	w.RLock()
	defer w.RUnlock()

	for obs := range w.observers {
		obs.NotifyCallback(event)
	}
}
