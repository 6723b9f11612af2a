//go:build !deadlock

// Package syncutil provides the mutex types used by the bridge device and the
// simulator. Plain sync mutexes are used unless the module is built with
// -tags=deadlock, which swaps in github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// Mutex is a sync.Mutex in normal builds.
//
//nolint:gocritic // embedding exposes Lock/Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex in normal builds.
//
//nolint:gocritic // embedding exposes the lock methods directly
type RWMutex struct {
	sync.RWMutex
}
