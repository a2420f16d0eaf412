// Package ziparchive persists a key store to a single zip file. Every key is a
// zip entry named after its alias, whose extra field holds the algorithm
// identifier and whose content is the PEM-encoded key.
package ziparchive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/facebookgo/atomicfile"
	"github.com/klauspost/compress/zip"

	"github.com/tinywideclouds/go-key-archive/pkg/keys"
	"github.com/tinywideclouds/go-key-archive/pkg/keystore"
	"github.com/tinywideclouds/go-key-archive/pkg/pemcodec"
)

// MaxAliasLength is the longest alias, in bytes, accepted as an entry name.
const MaxAliasLength = 255

const fileMode os.FileMode = 0o644

// Archive is a keystore.Archive backed by a zip file. It only remembers the
// path; nothing is cached between calls.
type Archive struct {
	path             string
	defaultAlgorithm string
	pemMode          pemcodec.Mode
	logger           *slog.Logger
}

var _ keystore.Archive = (*Archive)(nil)

// Option configures an Archive.
type Option func(*Archive)

// WithDefaultAlgorithm sets the algorithm assumed for entries without
// algorithm metadata. It defaults to keys.DefaultAlgorithm.
func WithDefaultAlgorithm(algorithm string) Option {
	return func(a *Archive) { a.defaultAlgorithm = algorithm }
}

// WithPEMMode selects how entry contents are decoded.
func WithPEMMode(mode pemcodec.Mode) Option {
	return func(a *Archive) { a.pemMode = mode }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) { a.logger = logger }
}

// New binds an archive to path. The path is only checked syntactically; its
// existence is verified by the first Load, Store or Update.
func New(path string, opts ...Option) (*Archive, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	a := &Archive{
		path:             path,
		defaultAlgorithm: keys.DefaultAlgorithm,
		pemMode:          pemcodec.ModeStrict,
		logger:           slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "zip_archive", "path", path)
	return a, nil
}

// Path returns the file the archive is bound to.
func (a *Archive) Path() string { return a.path }

// Store writes every key of the store to the archive file. The file is
// replaced atomically, so a failed Store leaves the previous archive intact.
// The context is not consulted; file I/O is not cancellable.
func (a *Archive) Store(_ context.Context, store *keystore.Store) error {
	entries := store.Snapshot()
	for _, entry := range entries {
		if err := ValidateAlias(entry.Alias); err != nil {
			return err
		}
	}

	a.logger.Debug("Storing key archive", "keys", len(entries))
	f, err := atomicfile.New(a.path, fileMode)
	if err != nil {
		a.logger.Error("Failed to create archive file", "err", err)
		return fmt.Errorf("%w: failed to create %s: %v", keystore.ErrIO, a.path, err)
	}

	if err := writeEntries(f, entries); err != nil {
		_ = f.Abort()
		a.logger.Error("Failed to write archive", "err", err)
		return err
	}
	if err := f.Close(); err != nil {
		a.logger.Error("Failed to commit archive file", "err", err)
		return fmt.Errorf("%w: failed to commit %s: %v", keystore.ErrIO, a.path, err)
	}

	store.SetChanged(false)
	a.logger.Debug("Successfully stored key archive", "keys", len(entries))
	return nil
}

// Load replaces the store's contents with the keys of the archive.
func (a *Archive) Load(ctx context.Context, store *keystore.Store) error {
	return keystore.Reload(store, func() error { return a.Update(ctx, store) })
}

// Update adds the keys of the archive to the store, in archive order.
func (a *Archive) Update(_ context.Context, store *keystore.Store) error {
	r, err := zip.OpenReader(a.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			a.logger.Debug("Archive file not found")
			return fmt.Errorf("%w: %s", keystore.ErrFileNotFound, a.path)
		}
		a.logger.Error("Failed to open archive", "err", err)
		return fmt.Errorf("%w: failed to open %s: %v", keystore.ErrIO, a.path, err)
	}
	defer r.Close()

	return keystore.ApplyUpdate(store, func() error {
		for _, f := range r.File {
			key, err := a.readEntry(f)
			if err != nil {
				a.logger.Error("Failed to read archive entry", "alias", f.Name, "err", err)
				return err
			}
			if err := store.Add(f.Name, key); err != nil {
				return err
			}
			a.logger.Debug("Loaded key", "alias", f.Name, "algorithm", key.Algorithm())
		}
		return nil
	})
}

func (a *Archive) readEntry(f *zip.File) (keys.Key, error) {
	if err := ValidateAlias(f.Name); err != nil {
		return keys.Key{}, fmt.Errorf("%w: bad entry name: %w", keystore.ErrIO, err)
	}

	algorithm := string(f.Extra)
	if algorithm == "" {
		algorithm = a.defaultAlgorithm
	}

	rc, err := f.Open()
	if err != nil {
		return keys.Key{}, fmt.Errorf("%w: failed to open entry %q: %v", keystore.ErrIO, f.Name, err)
	}
	defer rc.Close()

	key, err := pemcodec.Decode(rc, algorithm, pemcodec.WithMode(a.pemMode), pemcodec.WithLogger(a.logger))
	if err != nil {
		return keys.Key{}, fmt.Errorf("entry %q: %w", f.Name, err)
	}
	return key, nil
}

func writeEntries(f *atomicfile.File, entries []keystore.Entry) error {
	zw := zip.NewWriter(f)
	for _, entry := range entries {
		// Modified stays zero: a set time would make the writer append an
		// extended-timestamp block to Extra, which holds the bare algorithm name.
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   entry.Alias,
			Method: zip.Deflate,
			Extra:  []byte(entry.Key.Algorithm()),
		})
		if err != nil {
			return fmt.Errorf("%w: failed to add entry %q: %v", keystore.ErrIO, entry.Alias, err)
		}
		if err := pemcodec.Encode(w, entry.Key); err != nil {
			return fmt.Errorf("%w: entry %q: %w", keystore.ErrIO, entry.Alias, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: failed to finish zip: %v", keystore.ErrIO, err)
	}
	return nil
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: path is empty", keystore.ErrInvalidPath)
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("%w: path contains a NUL byte", keystore.ErrInvalidPath)
	}
	return nil
}

// ValidateAlias checks that alias can be stored as a zip entry name: 1 to
// MaxAliasLength bytes of valid UTF-8 without control characters or path
// separators, and not "." or "..".
func ValidateAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("%w: alias cannot be empty", keys.ErrInvalidArgument)
	}
	if len(alias) > MaxAliasLength {
		return fmt.Errorf("%w: alias is %d bytes, limit is %d", keys.ErrInvalidArgument, len(alias), MaxAliasLength)
	}
	if !utf8.ValidString(alias) {
		return fmt.Errorf("%w: alias %q is not valid UTF-8", keys.ErrInvalidArgument, alias)
	}
	if alias == "." || alias == ".." {
		return fmt.Errorf("%w: invalid alias %q", keys.ErrInvalidArgument, alias)
	}
	for _, r := range alias {
		if r == '/' || r == '\\' {
			return fmt.Errorf("%w: alias %q: path separators are not allowed", keys.ErrInvalidArgument, alias)
		}
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: alias %q: control characters are not allowed", keys.ErrInvalidArgument, alias)
		}
	}
	return nil
}
