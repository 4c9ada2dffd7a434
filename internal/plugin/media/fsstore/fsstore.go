// Package fsstore keeps media blobs as files in a local directory.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chirino/notification-cache/internal/config"
	registrymedia "github.com/chirino/notification-cache/internal/registry/media"
	"github.com/chirino/notification-cache/internal/tempfiles"
)

func init() {
	registrymedia.Register(registrymedia.Plugin{
		Name:   "fs",
		Loader: load,
	})
}

func load(ctx context.Context) (registrymedia.BlobStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.MediaDir == "" {
		return nil, fmt.Errorf("fsstore: media directory is required")
	}
	return New(cfg.MediaDir)
}

// Store writes blobs under root. Partial writes land in root/.partial and are
// renamed into place once complete.
type Store struct {
	root string
}

// New creates the root directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: create %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(storageKey string) (string, error) {
	if storageKey == "" || strings.ContainsAny(storageKey, `/\`) || storageKey == "." || storageKey == ".." {
		return "", fmt.Errorf("fsstore: invalid storage key %q", storageKey)
	}
	return filepath.Join(s.root, storageKey), nil
}

func (s *Store) Put(ctx context.Context, storageKey string, data io.Reader, maxSize int64, contentType string) (*registrymedia.BlobInfo, error) {
	dst, err := s.path(storageKey)
	if err != nil {
		return nil, err
	}
	spooled, err := tempfiles.Spool(filepath.Join(s.root, ".partial"), storageKey+"-*", data, maxSize)
	if errors.Is(err, tempfiles.ErrLimitExceeded) {
		return nil, fmt.Errorf("%w: limit %d bytes", registrymedia.ErrTooLarge, maxSize)
	}
	if err != nil {
		return nil, fmt.Errorf("fsstore: %w", err)
	}
	defer spooled.Discard()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := spooled.Sync(); err != nil {
		return nil, fmt.Errorf("fsstore: sync: %w", err)
	}
	if err := os.Rename(spooled.Name(), dst); err != nil {
		return nil, fmt.Errorf("fsstore: move blob into place: %w", err)
	}
	return &registrymedia.BlobInfo{StorageKey: storageKey, Size: spooled.Size, ContentType: contentType}, nil
}

func (s *Store) Open(_ context.Context, storageKey string) (io.ReadCloser, error) {
	p, err := s.path(storageKey)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("fsstore: open %s: %w", storageKey, err)
	}
	return f, nil
}

func (s *Store) Exists(_ context.Context, storageKey string) (bool, error) {
	p, err := s.path(storageKey)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fsstore: stat %s: %w", storageKey, err)
	}
	return true, nil
}

func (s *Store) Delete(_ context.Context, storageKey string) error {
	p, err := s.path(storageKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fsstore: delete %s: %w", storageKey, err)
	}
	return nil
}

var _ registrymedia.BlobStore = (*Store)(nil)
