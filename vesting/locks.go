package vesting

import (
	"sync"

	"github.com/warp/equity-vesting/generic"
)

// keyedMutex hands out one mutex per identity. Entries are reference counted
// and dropped when the last holder unlocks, so the map only holds identities
// with a claim in flight.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[generic.Identity]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[generic.Identity]*refMutex)}
}

// Lock blocks until identity is free and returns its unlock func.
func (k *keyedMutex) Lock(identity generic.Identity) func() {
	k.mu.Lock()
	m, ok := k.locks[identity]
	if !ok {
		m = &refMutex{}
		k.locks[identity] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, identity)
		}
		k.mu.Unlock()
	}
}

// inFlight is the number of identities currently locked or waited on.
func (k *keyedMutex) inFlight() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
