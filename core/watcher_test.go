package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWatcher_Add(t *testing.T) {
	watcher := NewWatcher()

	watcher.Add(newFakeObserver())
	require.Equal(t, 1, watcher.Len())

	obs := newFakeObserver()
	watcher.Add(obs)
	watcher.Add(obs)
	require.Equal(t, 2, watcher.Len())
}

func TestWatcher_Remove(t *testing.T) {
	watcher := NewWatcher()

	obs := newFakeObserver()
	watcher.Add(newFakeObserver())
	watcher.Add(obs)

	watcher.Remove(obs)
	require.Equal(t, 1, watcher.Len())

	watcher.Remove(obs)
	require.Equal(t, 1, watcher.Len())
}

func TestWatcher_Notify(t *testing.T) {
	watcher := NewWatcher()

	first := newFakeObserver()
	second := newFakeObserver()
	watcher.Add(first)
	watcher.Add(second)

	watcher.Notify(42)
	require.Equal(t, 42, <-first.ch)
	require.Equal(t, 42, <-second.ch)

	watcher.Remove(second)
	watcher.Notify(43)
	require.Equal(t, 43, <-first.ch)
	require.Empty(t, second.ch)
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeObserver struct {
	ch chan interface{}
}

func newFakeObserver() fakeObserver {
	return fakeObserver{ch: make(chan interface{}, 1)}
}

func (o fakeObserver) NotifyCallback(event interface{}) {
	o.ch <- event
}
