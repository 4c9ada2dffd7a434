package media

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge is returned by Put when the payload exceeds maxSize.
var ErrTooLarge = errors.New("media blob exceeds maximum size")

// BlobInfo describes a stored blob.
type BlobInfo struct {
	StorageKey  string
	Size        int64
	ContentType string
}

// BlobStore holds the bytes of cached media. Storage keys are chosen by the
// caller so a blob can be found again from its source URL.
type BlobStore interface {
	// Put writes data under storageKey, replacing any existing blob.
	Put(ctx context.Context, storageKey string, data io.Reader, maxSize int64, contentType string) (*BlobInfo, error)
	// Open returns a reader for the stored blob.
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	// Exists reports whether a blob is present.
	Exists(ctx context.Context, storageKey string) (bool, error)
	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, storageKey string) error
}

// Loader creates a BlobStore from config.
type Loader func(ctx context.Context) (BlobStore, error)

// Plugin represents a media blob store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a media blob store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered media blob store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named media blob store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown media store %q; valid: %v", name, Names())
}
