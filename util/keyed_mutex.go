package util

import "sync"

// KeyedMutex provides a mutual exclusion section per key. Locks are
// created lazily and never released back, which is acceptable for the
// bounded key spaces it is used with (deal ids).
type KeyedMutex struct {
	locks sync.Map
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

func (km *KeyedMutex) Lock(key string) {
	m, _ := km.locks.LoadOrStore(key, &sync.Mutex{})
	m.(*sync.Mutex).Lock()
}

func (km *KeyedMutex) Unlock(key string) {
	m, ok := km.locks.Load(key)
	if !ok {
		return
	}
	m.(*sync.Mutex).Unlock()
}
