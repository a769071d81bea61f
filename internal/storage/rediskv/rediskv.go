// Package rediskv implements the storage facade's Redis backend for the
// cache and csp-config documents: low-latency, single-writer, and
// naturally atomic per key (a Redis SET either lands whole or not at
// all, so a reader never observes a partially-written document).
package rediskv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
)

// Store persists cache and csp-config documents as Redis string values.
type Store struct {
	client *redis.Client
	prefix string
}

// New dials Redis per the given configuration and verifies connectivity
// with a Ping before any document traffic.
func New(ctx context.Context, cfg config.RedisStorageConfig) (*Store, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.Database != 0 {
		opt.DB = cfg.Database
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opt)

	pingCtx := ctx
	var cancel context.CancelFunc
	if cfg.OperationTimeout > 0 {
		pingCtx, cancel = context.WithTimeout(ctx, cfg.OperationTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &Store{client: client, prefix: cfg.KeyPrefix}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + ":" + name
}

func (s *Store) getDoc(ctx context.Context, name string, v interface{}) (bool, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("reading %s from redis: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decoding %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) putDoc(ctx context.Context, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	if err := s.client.Set(ctx, s.key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("writing %s to redis: %w", name, err)
	}
	return nil
}

func (s *Store) GetCache(ctx context.Context) (storage.Cache, bool, error) {
	var doc storage.Cache
	ok, err := s.getDoc(ctx, storage.DocCache, &doc)
	return doc, ok, err
}

func (s *Store) PutCache(ctx context.Context, doc storage.Cache) error {
	return s.putDoc(ctx, storage.DocCache, doc)
}

func (s *Store) GetCSPConfig(ctx context.Context) (storage.CSPConfig, bool, error) {
	var doc storage.CSPConfig
	ok, err := s.getDoc(ctx, storage.DocCSPConfig, &doc)
	return doc, ok, err
}

func (s *Store) PutCSPConfig(ctx context.Context, doc storage.CSPConfig) error {
	return s.putDoc(ctx, storage.DocCSPConfig, doc)
}
