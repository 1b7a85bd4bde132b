package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"finetune-pipeline/internal/config"
)

// NewObjectStore builds the store described by cfg. It returns nil when no
// bucket is configured, in which case artifacts stay on local disk only.
func NewObjectStore(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	if cfg.LocalDir != "" {
		return NewLocalObjectStore(cfg.LocalDir)
	}

	return NewS3ObjectStore(ctx, S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
}

const artifactPrefix = "models"

// Publisher copies finished model directories into an object store.
type Publisher struct {
	store  ObjectStore
	bucket string
}

func NewPublisher(ctx context.Context, store ObjectStore, bucket string) (*Publisher, error) {
	if err := store.CreateBucket(ctx, bucket); err != nil {
		return nil, err
	}
	return &Publisher{store: store, bucket: bucket}, nil
}

func ArtifactKey(name string) string {
	return path.Join(artifactPrefix, name)
}

// Publish uploads dir under models/<name> and returns its uri.
func (p *Publisher) Publish(ctx context.Context, name, dir string) (string, error) {
	key := ArtifactKey(name)
	if err := p.store.UploadDir(ctx, p.bucket, key, dir); err != nil {
		return "", fmt.Errorf("error publishing artifact %s: %w", name, err)
	}

	uri := p.store.URI(p.bucket, key)
	slog.Info("published artifact", "name", name, "uri", uri)
	return uri, nil
}

// Fetch downloads the artifact published as name into dest.
func (p *Publisher) Fetch(ctx context.Context, name, dest string, overwrite bool) error {
	if err := p.store.DownloadDir(ctx, p.bucket, ArtifactKey(name), dest, overwrite); err != nil {
		return fmt.Errorf("error fetching artifact %s: %w", name, err)
	}
	return nil
}
