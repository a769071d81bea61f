// Package filekv implements the storage facade's local-file backend:
// cache and csp-config are each one YAML file, and archive entries are
// YAML files under a per-entry-id path. Writes go to a temp file
// followed by os.Rename so a reader never observes a partially-written
// document.
package filekv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
)

// Store persists cache, csp-config and archive documents as YAML files
// under a configured directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "archive"), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

func writeAtomic(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

func readInto(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decoding %s: %w", path, err)
	}
	return true, nil
}

func (s *Store) GetCache(_ context.Context) (storage.Cache, bool, error) {
	var doc storage.Cache
	ok, err := readInto(s.path(storage.DocCache), &doc)
	return doc, ok, err
}

func (s *Store) PutCache(_ context.Context, doc storage.Cache) error {
	return writeAtomic(s.path(storage.DocCache), doc)
}

func (s *Store) GetCSPConfig(_ context.Context) (storage.CSPConfig, bool, error) {
	var doc storage.CSPConfig
	ok, err := readInto(s.path(storage.DocCSPConfig), &doc)
	return doc, ok, err
}

func (s *Store) PutCSPConfig(_ context.Context, doc storage.CSPConfig) error {
	return writeAtomic(s.path(storage.DocCSPConfig), doc)
}

func (s *Store) archivePath(id string) string {
	return filepath.Join(s.dir, "archive", id+".yaml")
}

func (s *Store) AppendArchive(_ context.Context, entry storage.ArchiveEntry) error {
	return writeAtomic(s.archivePath(entry.ID.String()), entry)
}

func (s *Store) ListArchive(_ context.Context) ([]storage.ArchiveEntry, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "archive"))
	if err != nil {
		return nil, fmt.Errorf("listing archive directory: %w", err)
	}

	out := make([]storage.ArchiveEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var entry storage.ArchiveEntry
		if _, err := readInto(filepath.Join(s.dir, "archive", e.Name()), &entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].BilledAt.Before(out[j].BilledAt) })
	return out, nil
}

func (s *Store) PruneArchive(ctx context.Context, olderThan time.Time) error {
	entries, err := s.ListArchive(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.BilledAt.Before(olderThan) {
			if err := os.Remove(s.archivePath(e.ID.String())); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("pruning archive entry %s: %w", e.ID.String(), err)
			}
		}
	}
	return nil
}
