package keystore

import (
	"context"
	"errors"
)

var (
	// ErrInvalidPath is returned when an archive location is not syntactically valid.
	ErrInvalidPath = errors.New("invalid archive path")
	// ErrFileNotFound is returned by Load and Update when the archive does not exist.
	ErrFileNotFound = errors.New("archive not found")
	// ErrIO wraps every other read or write failure, including a corrupt container.
	ErrIO = errors.New("archive i/o failure")
)

// Archive persists a Store. Implementations must not hold the store's lock
// across I/O: Store works from a Snapshot and Update adds keys one at a time.
//
// Operations are not safe to run concurrently against the same Store; callers
// serialize them.
type Archive interface {
	// Store writes every key of the store to the archive, replacing its previous
	// contents, and marks the store unchanged on success.
	Store(ctx context.Context, store *Store) error

	// Load replaces the contents of the store with the contents of the archive.
	// On success the store is marked unchanged.
	Load(ctx context.Context, store *Store) error

	// Update adds every key of the archive to the store without removing
	// existing keys. The changed flag ends up set if it was set before or if
	// any key was added or replaced. A failing entry aborts the update; keys
	// added from earlier entries stay in the store.
	Update(ctx context.Context, store *Store) error
}

// Memory is the Archive for stores that live only in memory: every operation
// is a no-op.
var Memory Archive = memoryArchive{}

type memoryArchive struct{}

func (memoryArchive) Store(context.Context, *Store) error  { return nil }
func (memoryArchive) Load(context.Context, *Store) error   { return nil }
func (memoryArchive) Update(context.Context, *Store) error { return nil }

// ApplyUpdate runs apply with the changed flag cleared, then sets the flag to
// its previous value OR whatever apply did to it. The flag is restored even
// when apply fails, so pending unsaved changes are never lost.
func ApplyUpdate(store *Store, apply func() error) error {
	saved := store.IsChanged()
	store.SetChanged(false)
	defer func() {
		store.mu.Lock()
		store.changed = store.changed || saved
		store.mu.Unlock()
	}()
	return apply()
}

// Reload clears the store and runs update. On success the store holds exactly
// what update added and is marked unchanged; on failure it stays changed.
func Reload(store *Store, update func() error) error {
	store.Clear()
	if err := update(); err != nil {
		return err
	}
	store.SetChanged(false)
	return nil
}
