// Package firestore provides a key archive backed by Google Cloud Firestore.
//
// An archive is the document <collection>/<archiveName>; each key is a
// document in its "keys" subcollection whose ID is the alias and whose fields
// hold the algorithm and the PEM text, mirroring the zip entry layout.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-key-archive/pkg/keys"
	"github.com/tinywideclouds/go-key-archive/pkg/keystore"
	"github.com/tinywideclouds/go-key-archive/pkg/pemcodec"
)

const (
	keysCollection  = "keys"
	maxDocumentID   = 1500
	reservedIDAffix = "__"
)

// archiveDocument marks that an archive has been stored at least once.
type archiveDocument struct {
	KeyCount  int       `firestore:"keyCount"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// keyDocument is the structure stored for each alias.
type keyDocument struct {
	Algorithm string `firestore:"algorithm"`
	PEM       string `firestore:"pem"`
}

// Archive is a keystore.Archive using Firestore.
type Archive struct {
	archive          *firestore.DocumentRef
	keys             *firestore.CollectionRef
	defaultAlgorithm string
	pemMode          pemcodec.Mode
	logger           *slog.Logger
}

var _ keystore.Archive = (*Archive)(nil)

// Option configures an Archive.
type Option func(*Archive)

// WithDefaultAlgorithm sets the algorithm assumed for documents without one.
func WithDefaultAlgorithm(algorithm string) Option {
	return func(a *Archive) { a.defaultAlgorithm = algorithm }
}

// WithPEMMode selects how stored PEM text is decoded.
func WithPEMMode(mode pemcodec.Mode) Option {
	return func(a *Archive) { a.pemMode = mode }
}

// NewFirestoreArchive creates an archive stored under collectionName/archiveName.
func NewFirestoreArchive(client *firestore.Client, collectionName, archiveName string, logger *slog.Logger, opts ...Option) (*Archive, error) {
	if collectionName == "" {
		return nil, fmt.Errorf("%w: collection name is empty", keystore.ErrInvalidPath)
	}
	if err := validateDocumentID(archiveName); err != nil {
		return nil, fmt.Errorf("%w: archive name: %w", keystore.ErrInvalidPath, err)
	}

	doc := client.Collection(collectionName).Doc(archiveName)
	a := &Archive{
		archive:          doc,
		keys:             doc.Collection(keysCollection),
		defaultAlgorithm: keys.DefaultAlgorithm,
		pemMode:          pemcodec.ModeStrict,
		logger:           logger.With("component", "firestore_archive", "collection", collectionName, "archive", archiveName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Store overwrites the archive with the store's keys. Documents for aliases no
// longer in the store are deleted. The writes are not transactional.
func (a *Archive) Store(ctx context.Context, store *keystore.Store) error {
	entries := store.Snapshot()
	wanted := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if err := validateDocumentID(entry.Alias); err != nil {
			return err
		}
		wanted[entry.Alias] = struct{}{}
	}

	a.logger.Debug("Storing archive", "keys", len(entries))

	refs := a.keys.DocumentRefs(ctx)
	for {
		ref, err := refs.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			a.logger.Error("Failed to list stored keys", "err", err)
			return fmt.Errorf("%w: failed to list stored keys: %v", keystore.ErrIO, err)
		}
		if _, ok := wanted[ref.ID]; ok {
			continue
		}
		if _, err := ref.Delete(ctx); err != nil {
			a.logger.Error("Failed to delete stale key", "alias", ref.ID, "err", err)
			return fmt.Errorf("%w: failed to delete key %q: %v", keystore.ErrIO, ref.ID, err)
		}
	}

	for _, entry := range entries {
		text, err := pemcodec.EncodeToString(entry.Key)
		if err != nil {
			return err
		}
		doc := keyDocument{Algorithm: entry.Key.Algorithm(), PEM: text}
		if _, err := a.keys.Doc(entry.Alias).Set(ctx, doc); err != nil {
			a.logger.Error("Failed to store key", "alias", entry.Alias, "err", err)
			return fmt.Errorf("%w: failed to store key %q: %v", keystore.ErrIO, entry.Alias, err)
		}
	}

	marker := archiveDocument{KeyCount: len(entries), UpdatedAt: time.Now().UTC()}
	if _, err := a.archive.Set(ctx, marker); err != nil {
		a.logger.Error("Failed to store archive document", "err", err)
		return fmt.Errorf("%w: failed to store archive document: %v", keystore.ErrIO, err)
	}

	store.SetChanged(false)
	a.logger.Debug("Successfully stored archive", "keys", len(entries))
	return nil
}

// Load replaces the store's contents with the archive's keys.
func (a *Archive) Load(ctx context.Context, store *keystore.Store) error {
	return keystore.Reload(store, func() error { return a.Update(ctx, store) })
}

// Update adds the archive's keys to the store in document ID order.
func (a *Archive) Update(ctx context.Context, store *keystore.Store) error {
	if _, err := a.archive.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			a.logger.Debug("Archive not found")
			return fmt.Errorf("%w: %s", keystore.ErrFileNotFound, a.archive.Path)
		}
		a.logger.Warn("Failed to get archive document", "err", err)
		return fmt.Errorf("%w: failed to get archive document: %v", keystore.ErrIO, err)
	}

	docs := a.keys.Documents(ctx)
	defer docs.Stop()

	return keystore.ApplyUpdate(store, func() error {
		for {
			snap, err := docs.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				a.logger.Error("Failed to read key documents", "err", err)
				return fmt.Errorf("%w: failed to read key documents: %v", keystore.ErrIO, err)
			}

			alias := snap.Ref.ID
			var kd keyDocument
			if err := snap.DataTo(&kd); err != nil {
				a.logger.Error("Failed to parse key document", "alias", alias, "err", err)
				return fmt.Errorf("%w: failed to parse key document %q: %v", keystore.ErrIO, alias, err)
			}
			algorithm := kd.Algorithm
			if algorithm == "" {
				algorithm = a.defaultAlgorithm
			}

			key, err := pemcodec.DecodeString(kd.PEM, algorithm, pemcodec.WithMode(a.pemMode), pemcodec.WithLogger(a.logger))
			if err != nil {
				return fmt.Errorf("key %q: %w", alias, err)
			}
			if err := store.Add(alias, key); err != nil {
				return err
			}
			a.logger.Debug("Loaded key", "alias", alias, "algorithm", algorithm)
		}
	})
}

// validateDocumentID applies Firestore's document ID rules.
func validateDocumentID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: document id cannot be empty", keys.ErrInvalidArgument)
	case len(id) > maxDocumentID:
		return fmt.Errorf("%w: document id is %d bytes, limit is %d", keys.ErrInvalidArgument, len(id), maxDocumentID)
	case id == "." || id == "..":
		return fmt.Errorf("%w: invalid document id %q", keys.ErrInvalidArgument, id)
	case strings.Contains(id, "/"):
		return fmt.Errorf("%w: document id %q contains '/'", keys.ErrInvalidArgument, id)
	case len(id) >= 4 && strings.HasPrefix(id, reservedIDAffix) && strings.HasSuffix(id, reservedIDAffix):
		return fmt.Errorf("%w: document id %q is reserved", keys.ErrInvalidArgument, id)
	}
	return nil
}
