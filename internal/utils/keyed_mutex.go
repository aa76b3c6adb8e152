package utils

import "sync"

// KeyedMutex provides one mutex per key so operations on different keys
// proceed in parallel while operations on the same key serialize.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

func (km *KeyedMutex) Lock(key string) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyedLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()
	l.mu.Lock()
}

func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	l := km.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()
	l.mu.Unlock()
}

// TryLock acquires the key's lock only if it is free.
func (km *KeyedMutex) TryLock(key string) bool {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyedLock{}
		km.locks[key] = l
	}
	if !l.mu.TryLock() {
		km.mu.Unlock()
		return false
	}
	l.refs++
	km.mu.Unlock()
	return true
}
