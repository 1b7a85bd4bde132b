package utils

import (
	"sync"
)

// KeyedMutex hands out one mutex per key. Entries are dropped once nobody
// holds or waits for them, so the map only grows with in-flight keys.
type KeyedMutex struct {
	edit    sync.Mutex
	waiters map[string]int
	mutexes map[string]*sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		waiters: make(map[string]int),
		mutexes: make(map[string]*sync.Mutex),
	}
}

// Lock blocks until key is free and returns the matching unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	m.edit.Lock()
	mu, ok := m.mutexes[key]
	if !ok {
		mu = &sync.Mutex{}
		m.mutexes[key] = mu
	}
	m.waiters[key]++
	m.edit.Unlock()

	mu.Lock()

	return func() {
		m.edit.Lock()
		defer m.edit.Unlock()

		mu.Unlock()
		m.waiters[key]--
		if m.waiters[key] == 0 {
			delete(m.mutexes, key)
			delete(m.waiters, key)
		}
	}
}

// Len returns the number of keys currently held or waited on.
func (m *KeyedMutex) Len() int {
	m.edit.Lock()
	defer m.edit.Unlock()
	return len(m.mutexes)
}
