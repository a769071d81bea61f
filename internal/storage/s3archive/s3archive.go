// Package s3archive implements the storage facade's archive backend on
// an S3-compatible object store: one JSON object per archived billing
// cycle, named by its ULID, under a configured path prefix.
package s3archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	cfgpkg "github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
)

// Store archives billing cycles as objects in an S3-compatible bucket.
type Store struct {
	client     *s3.Client
	bucket     string
	pathPrefix string
}

// New builds an S3 client per the given configuration, supporting both
// standard AWS S3 (default credential chain, or static keys) and
// MinIO-style custom endpoints with path-style addressing.
func New(ctx context.Context, cfg cfgpkg.S3StorageConfig) (*Store, error) {
	var awsCfg aws.Config
	var err error

	switch {
	case cfg.Endpoint != "" || (cfg.AccessKeyID != "" && cfg.SecretAccessKey != ""):
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)),
		)
	default:
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Store{client: client, bucket: cfg.Bucket, pathPrefix: cfg.PathPrefix}, nil
}

func (s *Store) key(id string) string {
	if s.pathPrefix == "" {
		return id + ".json"
	}
	return strings.TrimSuffix(s.pathPrefix, "/") + "/" + id + ".json"
}

func (s *Store) AppendArchive(ctx context.Context, entry storage.ArchiveEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling archive entry: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(entry.ID.String())),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading archive entry to s3: %w", err)
	}
	return nil
}

func (s *Store) ListArchive(ctx context.Context) ([]storage.ArchiveEntry, error) {
	prefix := s.pathPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var out []storage.ArchiveEntry
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing archive objects: %w", err)
		}
		for _, obj := range page.Contents {
			entry, err := s.getEntry(ctx, *obj.Key)
			if err != nil {
				return nil, err
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) getEntry(ctx context.Context, key string) (storage.ArchiveEntry, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return storage.ArchiveEntry{}, fmt.Errorf("downloading archive object %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return storage.ArchiveEntry{}, fmt.Errorf("reading archive object body %s: %w", key, err)
	}

	var entry storage.ArchiveEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return storage.ArchiveEntry{}, fmt.Errorf("decoding archive object %s: %w", key, err)
	}
	return entry, nil
}

// PruneArchive deletes archived entries older than olderThan, per the
// archive_retention_period policy.
func (s *Store) PruneArchive(ctx context.Context, olderThan time.Time) error {
	entries, err := s.ListArchive(ctx)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.BilledAt.Before(olderThan) {
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(s.key(e.ID.String())),
			})
			if err != nil {
				return fmt.Errorf("pruning archive object %s: %w", e.ID.String(), err)
			}
		}
	}
	return nil
}
