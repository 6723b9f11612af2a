//go:build deadlock

// Package syncutil provides the mutex types used by the bridge device and the
// simulator. This file is compiled with -tags=deadlock so that a stuck
// half-duplex exchange in tests shows up as a reported lock cycle instead of
// a hung test binary.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex is a deadlock-detecting mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock-detecting read/write mutex.
type RWMutex struct {
	deadlock.RWMutex
}
