package keystore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-key-archive/pkg/keys"
	"github.com/tinywideclouds/go-key-archive/pkg/keystore"
	"github.com/tinywideclouds/go-key-archive/test"
)

func TestStore_Add(t *testing.T) {
	k1 := test.NewEd25519Key(t)
	k2 := test.NewEd25519Key(t)

	t.Run("Success - add then find", func(t *testing.T) {
		store := keystore.New()
		require.False(t, store.IsChanged())

		require.NoError(t, store.Add("test", k1))

		got, ok, err := store.FindKey("test")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, k1.Equal(got))
		assert.True(t, store.IsChanged())
	})

	t.Run("Success - equal key twice is a no-op", func(t *testing.T) {
		store := keystore.New()
		require.NoError(t, store.Add("test", k1))
		store.SetChanged(false)

		same, err := keys.New(k1.Algorithm(), k1.Bytes())
		require.NoError(t, err)
		require.NoError(t, store.Add("test", same))

		assert.False(t, store.IsChanged())
		assert.Equal(t, 1, store.Len())
	})

	t.Run("Success - different key replaces", func(t *testing.T) {
		store := keystore.New()
		require.NoError(t, store.Add("test", k1))
		store.SetChanged(false)

		require.NoError(t, store.Add("test", k2))

		got, ok, err := store.FindKey("test")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, k2.Equal(got))
		assert.Equal(t, 1, store.Len())
		assert.True(t, store.IsChanged())
	})

	t.Run("Failure - empty alias", func(t *testing.T) {
		store := keystore.New()
		err := store.Add("", k1)
		assert.ErrorIs(t, err, keys.ErrInvalidArgument)
		assert.False(t, store.IsChanged())
	})

	t.Run("Failure - missing key", func(t *testing.T) {
		store := keystore.New()
		err := store.Add("test", keys.Key{})
		assert.ErrorIs(t, err, keys.ErrInvalidArgument)
		assert.Zero(t, store.Len())
	})
}

func TestStore_Remove(t *testing.T) {
	key := test.NewEd25519Key(t)

	t.Run("Success - absent alias leaves flag alone", func(t *testing.T) {
		store := keystore.New()
		store.Remove("missing")
		assert.False(t, store.IsChanged())
	})

	t.Run("Success - present alias sets flag", func(t *testing.T) {
		store := keystore.New()
		require.NoError(t, store.Add("test", key))
		store.SetChanged(false)

		store.Remove("test")

		_, ok, err := store.FindKey("test")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, store.IsChanged())
	})
}

func TestStore_Clear(t *testing.T) {
	t.Run("Success - empty store still counts as changed", func(t *testing.T) {
		store := keystore.New()
		store.Clear()
		assert.True(t, store.IsChanged())
	})

	t.Run("Success - removes all keys", func(t *testing.T) {
		store := keystore.New()
		require.NoError(t, store.Add("a", test.NewEd25519Key(t)))
		require.NoError(t, store.Add("b", test.NewEd25519Key(t)))
		store.SetChanged(false)

		store.Clear()

		assert.Zero(t, store.Len())
		assert.True(t, store.IsChanged())
	})
}

func TestStore_FindKey(t *testing.T) {
	store := keystore.New()

	t.Run("Failure - empty alias is an error, not a miss", func(t *testing.T) {
		_, ok, err := store.FindKey("")
		assert.ErrorIs(t, err, keys.ErrInvalidArgument)
		assert.False(t, ok)
	})

	t.Run("Success - unknown alias is a miss", func(t *testing.T) {
		key, ok, err := store.FindKey("unknown")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, key.IsZero())
	})
}

func TestStore_Snapshot(t *testing.T) {
	store := keystore.New()
	k1 := test.NewEd25519Key(t)
	k2 := test.NewEd25519Key(t)
	require.NoError(t, store.Add("b", k2))
	require.NoError(t, store.Add("a", k1))

	// Act
	snapshot := store.Snapshot()
	require.NoError(t, store.Add("c", test.NewEd25519Key(t)))
	store.Remove("a")

	// Assert
	require.Len(t, snapshot, 2)
	assert.Equal(t, "a", snapshot[0].Alias)
	assert.True(t, k1.Equal(snapshot[0].Key))
	assert.Equal(t, "b", snapshot[1].Alias)
	assert.True(t, k2.Equal(snapshot[1].Key))
	assert.Len(t, store.Snapshot(), 2)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := keystore.New()
	key := test.NewEd25519Key(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			alias := fmt.Sprintf("key-%d", i)
			for j := 0; j < 50; j++ {
				assert.NoError(t, store.Add(alias, key))
				_, _, _ = store.FindKey(alias)
				_ = store.Snapshot()
				if j%10 == 0 {
					store.Remove(alias)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16, store.Len())
}

func TestMemoryArchive(t *testing.T) {
	ctx := context.Background()
	store := keystore.New()
	require.NoError(t, store.Add("test", test.NewEd25519Key(t)))

	require.NoError(t, keystore.Memory.Store(ctx, store))
	require.NoError(t, keystore.Memory.Load(ctx, store))
	require.NoError(t, keystore.Memory.Update(ctx, store))

	assert.Equal(t, 1, store.Len())
	assert.True(t, store.IsChanged())
}

func TestApplyUpdate(t *testing.T) {
	key := test.NewEd25519Key(t)

	t.Run("Success - preserves a pending change when nothing is added", func(t *testing.T) {
		store := keystore.New()
		require.NoError(t, store.Add("test", key))

		err := keystore.ApplyUpdate(store, func() error {
			assert.False(t, store.IsChanged(), "flag is cleared while applying")
			return store.Add("test", key)
		})

		require.NoError(t, err)
		assert.True(t, store.IsChanged())
	})

	t.Run("Success - reports changes introduced by the update", func(t *testing.T) {
		store := keystore.New()

		err := keystore.ApplyUpdate(store, func() error { return store.Add("test", key) })

		require.NoError(t, err)
		assert.True(t, store.IsChanged())
	})

	t.Run("Success - stays unchanged when nothing happens", func(t *testing.T) {
		store := keystore.New()
		require.NoError(t, keystore.ApplyUpdate(store, func() error { return nil }))
		assert.False(t, store.IsChanged())
	})

	t.Run("Failure - flag restored on error", func(t *testing.T) {
		store := keystore.New()
		store.SetChanged(true)
		boom := errors.New("boom")

		err := keystore.ApplyUpdate(store, func() error { return boom })

		assert.ErrorIs(t, err, boom)
		assert.True(t, store.IsChanged())
	})
}

func TestReload(t *testing.T) {
	key := test.NewEd25519Key(t)

	t.Run("Success - replaces contents and clears flag", func(t *testing.T) {
		store := keystore.New()
		require.NoError(t, store.Add("old", key))

		err := keystore.Reload(store, func() error { return store.Add("new", key) })

		require.NoError(t, err)
		assert.Equal(t, 1, store.Len())
		_, ok, _ := store.FindKey("new")
		assert.True(t, ok)
		assert.False(t, store.IsChanged())
	})

	t.Run("Failure - store stays changed", func(t *testing.T) {
		store := keystore.New()
		err := keystore.Reload(store, func() error { return errors.New("boom") })
		assert.Error(t, err)
		assert.True(t, store.IsChanged())
	})
}
