package storage

import (
	"context"
	"time"
)

// CacheStore exposes atomic access to the cache document.
// A partially-written document must never be observed by a concurrent
// reader; concrete backends satisfy this per their own medium (a single
// Redis SET, or a temp-file-plus-rename on local disk).
type CacheStore interface {
	GetCache(ctx context.Context) (Cache, bool, error)
	PutCache(ctx context.Context, doc Cache) error
}

// CSPConfigStore exposes atomic access to the csp-config document.
type CSPConfigStore interface {
	GetCSPConfig(ctx context.Context) (CSPConfig, bool, error)
	PutCSPConfig(ctx context.Context, doc CSPConfig) error
}

// ArchiveStore exposes append and retention-pruning operations over the
// archive document sequence.
type ArchiveStore interface {
	AppendArchive(ctx context.Context, entry ArchiveEntry) error
	PruneArchive(ctx context.Context, olderThan time.Time) error
	ListArchive(ctx context.Context) ([]ArchiveEntry, error)
}

// Store is the full Storage Facade capability: one cache/
// csp-config backend, bound at bootstrap from the operator's
// storage.backend configuration.
type Store interface {
	CacheStore
	CSPConfigStore
}

// UpdateCache is the facade's read-modify-write operation over the cache
// document. No cross-document transaction is
// offered; the control loop is the sole writer and serialises its own
// writes, so get-then-put is race-free by construction. An absent
// document hands fn the zero value.
func UpdateCache(ctx context.Context, s CacheStore, fn func(Cache) (Cache, error)) error {
	doc, _, err := s.GetCache(ctx)
	if err != nil {
		return err
	}
	doc, err = fn(doc)
	if err != nil {
		return err
	}
	return s.PutCache(ctx, doc)
}

// UpdateCSPConfig is the read-modify-write counterpart for csp-config.
func UpdateCSPConfig(ctx context.Context, s CSPConfigStore, fn func(CSPConfig) (CSPConfig, error)) error {
	doc, _, err := s.GetCSPConfig(ctx)
	if err != nil {
		return err
	}
	doc, err = fn(doc)
	if err != nil {
		return err
	}
	return s.PutCSPConfig(ctx, doc)
}
