package cache

import (
	"context"
	"fmt"
	"strings"
)

// Well-known list keys of the normalized cache.
const (
	ListNotifications = "notifications"
	ListAppState      = "app-state"
)

type cacheKey struct{}

// WithContext returns a new context carrying the given NormalizedCache.
func WithContext(ctx context.Context, c NormalizedCache) context.Context {
	return context.WithValue(ctx, cacheKey{}, c)
}

// FromContext retrieves the NormalizedCache from the context.
// Returns nil if none was set.
func FromContext(ctx context.Context) NormalizedCache {
	c, _ := ctx.Value(cacheKey{}).(NormalizedCache)
	return c
}

// Ref identifies one normalized entity.
type Ref struct {
	Type string
	ID   string
}

func (r Ref) String() string { return r.Type + ":" + r.ID }

// ParseRef is the inverse of Ref.String.
func ParseRef(s string) (Ref, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" || id == "" {
		return Ref{}, fmt.Errorf("invalid cache ref %q", s)
	}
	return Ref{Type: typ, ID: id}, nil
}

// NormalizedCache stores remote entities once by (type, id) and named lists
// that reference them. Entities no longer referenced by any list are dropped by GC.
type NormalizedCache interface {
	Available() bool
	PutEntities(ctx context.Context, typ string, entities map[string][]byte) error
	GetEntity(ctx context.Context, typ, id string) ([]byte, bool, error)
	DeleteEntities(ctx context.Context, typ string, ids ...string) error
	SetList(ctx context.Context, key string, refs []Ref) error
	GetList(ctx context.Context, key string) ([]Ref, bool, error)
	// Invalidate drops the named lists so the next read repopulates them.
	Invalidate(ctx context.Context, keys ...string) error
	// GC removes entities not referenced by any list and reports how many were removed.
	GC(ctx context.Context) (int, error)
	Close() error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (NormalizedCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
