// Package keyarchive wires a configured archive backend to key stores.
package keyarchive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"

	fs "github.com/tinywideclouds/go-key-archive/internal/storage/firestore"
	"github.com/tinywideclouds/go-key-archive/internal/storage/ziparchive"
	"github.com/tinywideclouds/go-key-archive/keyarchive/config"
	"github.com/tinywideclouds/go-key-archive/pkg/keystore"
)

// Wrapper embeds the configured backend and adds open/save helpers on top of
// the raw keystore.Archive operations.
type Wrapper struct {
	keystore.Archive
	cfg     *config.Config
	closers []func() error
	logger  *slog.Logger
}

// New creates the backend named by cfg.Backend.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Wrapper, error) {
	logger = logger.With("component", "keyarchive", "backend", cfg.Backend)

	switch cfg.Backend {
	case config.BackendMemory:
		logger.Info("Using in-memory key archive")
		return NewWithArchive(cfg, keystore.Memory, logger), nil

	case config.BackendZip:
		archive, err := ziparchive.New(cfg.ArchivePath,
			ziparchive.WithDefaultAlgorithm(cfg.DefaultAlgorithm),
			ziparchive.WithPEMMode(cfg.PEMMode),
			ziparchive.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		logger.Info("Using zip key archive", "path", cfg.ArchivePath)
		return NewWithArchive(cfg, archive, logger), nil

	case config.BackendFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create Firestore client for project %s: %w", cfg.ProjectID, err)
		}
		archive, err := fs.NewFirestoreArchive(fsClient, cfg.FirestoreCollection, cfg.ArchiveName, logger,
			fs.WithDefaultAlgorithm(cfg.DefaultAlgorithm),
			fs.WithPEMMode(cfg.PEMMode),
		)
		if err != nil {
			_ = fsClient.Close()
			return nil, err
		}
		logger.Info("Using Firestore key archive", "project_id", cfg.ProjectID)
		w := NewWithArchive(cfg, archive, logger)
		w.closers = append(w.closers, fsClient.Close)
		return w, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// NewWithArchive wraps an already constructed archive.
func NewWithArchive(cfg *config.Config, archive keystore.Archive, logger *slog.Logger) *Wrapper {
	return &Wrapper{Archive: archive, cfg: cfg, logger: logger}
}

// Open loads the archive into a fresh store. A missing archive yields an
// empty, unchanged store when the configuration allows creating it.
func (w *Wrapper) Open(ctx context.Context) (*keystore.Store, error) {
	store := keystore.New()
	err := w.Load(ctx, store)
	if err == nil {
		w.logger.Debug("Opened key archive", "keys", store.Len())
		return store, nil
	}
	if errors.Is(err, keystore.ErrFileNotFound) && w.cfg.CreateIfMissing {
		w.logger.Info("Key archive not found, starting empty")
		return keystore.New(), nil
	}
	return nil, err
}

// Save persists the store when it has unsaved changes. It reports whether a
// write happened.
func (w *Wrapper) Save(ctx context.Context, store *keystore.Store) (bool, error) {
	if !store.IsChanged() {
		w.logger.Debug("Key store unchanged, skipping save")
		return false, nil
	}
	if err := w.Store(ctx, store); err != nil {
		return false, err
	}
	w.logger.Debug("Saved key archive", "keys", store.Len())
	return true, nil
}

// Close releases backend resources.
func (w *Wrapper) Close() error {
	var errs []error
	for _, c := range w.closers {
		errs = append(errs, c())
	}
	w.closers = nil
	return errors.Join(errs...)
}
