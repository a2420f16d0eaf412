// Package keystore contains the in-memory public key store and the contract
// archives implement to persist it.
package keystore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tinywideclouds/go-key-archive/pkg/keys"
)

// Entry is one alias/key pair of a Snapshot.
type Entry struct {
	Alias string
	Key   keys.Key
}

// Store is a thread-safe mapping from alias to public key that tracks whether
// it has diverged from its last load or persist point.
//
// A single RWMutex guards the map and the changed flag. Add, Remove, Clear,
// Snapshot and SetChanged take it exclusively; FindKey, IsChanged and Len take
// it shared.
type Store struct {
	mu      sync.RWMutex
	keys    map[string]keys.Key
	changed bool
}

// New creates an empty, unchanged store.
func New() *Store {
	return &Store{keys: make(map[string]keys.Key)}
}

// Add stores key under alias. Adding a key equal to the one already stored is
// a no-op and leaves the changed flag alone.
func (s *Store) Add(alias string, key keys.Key) error {
	if alias == "" {
		return fmt.Errorf("%w: alias is required", keys.ErrInvalidArgument)
	}
	if key.IsZero() {
		return fmt.Errorf("%w: key is required", keys.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.keys[alias]; ok && existing.Equal(key) {
		return nil
	}
	s.keys[alias] = key
	s.changed = true
	return nil
}

// Remove deletes alias. Removing an absent alias does not mark the store changed.
func (s *Store) Remove(alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[alias]; !ok {
		return
	}
	delete(s.keys, alias)
	s.changed = true
}

// Clear removes every key. It always counts as a change, even on an empty store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]keys.Key)
	s.changed = true
}

// FindKey returns the key stored under alias. An empty alias is a caller
// error, not a miss.
func (s *Store) FindKey(alias string) (keys.Key, bool, error) {
	if alias == "" {
		return keys.Key{}, false, fmt.Errorf("%w: alias is required", keys.ErrInvalidArgument)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[alias]
	return key, ok, nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// IsChanged reports whether the store differs from its last load or persist point.
func (s *Store) IsChanged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// SetChanged overrides the changed flag. It exists for Archive implementations,
// which reset the flag after persisting and preserve it across updates; other
// callers should not need it.
func (s *Store) SetChanged(changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changed = changed
}

// Snapshot returns an independent copy of the current entries ordered by alias.
// Later mutations of the store are not visible through it.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	entries := make([]Entry, 0, len(s.keys))
	for alias, key := range s.keys {
		entries = append(entries, Entry{Alias: alias, Key: key})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Alias < entries[j].Alias })
	return entries
}
