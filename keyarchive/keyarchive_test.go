package keyarchive_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-key-archive/keyarchive"
	"github.com/tinywideclouds/go-key-archive/keyarchive/config"
	"github.com/tinywideclouds/go-key-archive/pkg/keys"
	"github.com/tinywideclouds/go-key-archive/pkg/keystore"
	"github.com/tinywideclouds/go-key-archive/pkg/pemcodec"
	"github.com/tinywideclouds/go-key-archive/test"
)

// MockArchive is a testify mock of keystore.Archive.
type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Store(ctx context.Context, store *keystore.Store) error {
	return m.Called(ctx, store).Error(0)
}

func (m *MockArchive) Load(ctx context.Context, store *keystore.Store) error {
	return m.Called(ctx, store).Error(0)
}

func (m *MockArchive) Update(ctx context.Context, store *keystore.Store) error {
	return m.Called(ctx, store).Error(0)
}

func newZipConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Backend:          config.BackendZip,
		ArchivePath:      filepath.Join(t.TempDir(), "keys.zip"),
		PEMMode:          pemcodec.ModeStrict,
		DefaultAlgorithm: keys.DefaultAlgorithm,
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	logger := test.NewTestLogger()

	t.Run("Success - memory backend", func(t *testing.T) {
		w, err := keyarchive.New(ctx, &config.Config{Backend: config.BackendMemory}, logger)
		require.NoError(t, err)
		assert.Equal(t, keystore.Memory, w.Archive)
		assert.NoError(t, w.Close())
	})

	t.Run("Failure - zip backend with invalid path", func(t *testing.T) {
		cfg := newZipConfig(t)
		cfg.ArchivePath = ""
		_, err := keyarchive.New(ctx, cfg, logger)
		assert.ErrorIs(t, err, keystore.ErrInvalidPath)
	})

	t.Run("Failure - unknown backend", func(t *testing.T) {
		_, err := keyarchive.New(ctx, &config.Config{Backend: "tape"}, logger)
		assert.Error(t, err)
	})
}

func TestWrapper_ZipRoundTrip(t *testing.T) {
	// Arrange
	ctx := context.Background()
	cfg := newZipConfig(t)
	w, err := keyarchive.New(ctx, cfg, test.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	key := test.NewEd25519Key(t)
	store := keystore.New()
	require.NoError(t, store.Add("signer", key))

	// Act
	saved, err := w.Save(ctx, store)
	require.NoError(t, err)
	opened, openErr := w.Open(ctx)

	// Assert
	assert.True(t, saved)
	require.NoError(t, openErr)
	assert.False(t, opened.IsChanged())
	got, ok, _ := opened.FindKey("signer")
	require.True(t, ok)
	assert.True(t, key.Equal(got))
}

func TestWrapper_Open(t *testing.T) {
	ctx := context.Background()
	logger := test.NewTestLogger()

	t.Run("Success - missing archive with create_if_missing", func(t *testing.T) {
		cfg := newZipConfig(t)
		cfg.CreateIfMissing = true
		w, err := keyarchive.New(ctx, cfg, logger)
		require.NoError(t, err)

		store, err := w.Open(ctx)

		require.NoError(t, err)
		assert.Zero(t, store.Len())
		assert.False(t, store.IsChanged())
	})

	t.Run("Failure - missing archive without create_if_missing", func(t *testing.T) {
		w, err := keyarchive.New(ctx, newZipConfig(t), logger)
		require.NoError(t, err)

		_, err = w.Open(ctx)

		assert.ErrorIs(t, err, keystore.ErrFileNotFound)
	})

	t.Run("Failure - other errors are never swallowed", func(t *testing.T) {
		archive := new(MockArchive)
		archive.On("Load", mock.Anything, mock.Anything).Return(keystore.ErrIO)
		w := keyarchive.NewWithArchive(&config.Config{CreateIfMissing: true}, archive, logger)

		_, err := w.Open(ctx)

		assert.ErrorIs(t, err, keystore.ErrIO)
		archive.AssertExpectations(t)
	})
}

func TestWrapper_Save(t *testing.T) {
	ctx := context.Background()
	logger := test.NewTestLogger()

	t.Run("Success - unchanged store is not written", func(t *testing.T) {
		archive := new(MockArchive)
		w := keyarchive.NewWithArchive(&config.Config{}, archive, logger)

		saved, err := w.Save(ctx, keystore.New())

		require.NoError(t, err)
		assert.False(t, saved)
		archive.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
	})

	t.Run("Success - changed store is written", func(t *testing.T) {
		store := keystore.New()
		require.NoError(t, store.Add("k", test.NewRSAKey(t)))
		archive := new(MockArchive)
		archive.On("Store", mock.Anything, store).Return(nil).Once()
		w := keyarchive.NewWithArchive(&config.Config{}, archive, logger)

		saved, err := w.Save(ctx, store)

		require.NoError(t, err)
		assert.True(t, saved)
		archive.AssertExpectations(t)
	})

	t.Run("Failure - store error is returned", func(t *testing.T) {
		store := keystore.New()
		require.NoError(t, store.Add("k", test.NewRSAKey(t)))
		archive := new(MockArchive)
		archive.On("Store", mock.Anything, store).Return(errors.New("disk full"))
		w := keyarchive.NewWithArchive(&config.Config{}, archive, logger)

		saved, err := w.Save(ctx, store)

		assert.Error(t, err)
		assert.False(t, saved)
	})
}
