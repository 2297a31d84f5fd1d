package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/pip-arch/url-compliance-checker/internal/batch"
)

// GCSConfig captures the parameters for the Cloud Storage checkpoint store.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// GCSStore persists batch progress as objects in a GCS bucket. Object writes
// in GCS are all-or-nothing, which gives the store its atomic-replace
// contract for free.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore initializes a GCS client via Application Default Credentials
// and verifies the bucket is reachable, failing fast on bad configuration.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("checkpoint bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get bucket %q attributes: %w", cfg.Bucket, err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// Save uploads the snapshot for batchID, replacing any prior object.
func (s *GCSStore) Save(ctx context.Context, batchID string, snap batch.ProgressSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	w := s.object(batchID).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write checkpoint object: %w", err)
	}
	// Close finalizes the upload; the object only becomes visible here.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize checkpoint object: %w", err)
	}
	return nil
}

// Load downloads the snapshot for batchID.
func (s *GCSStore) Load(ctx context.Context, batchID string) (batch.ProgressSnapshot, error) {
	r, err := s.object(batchID).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return batch.ProgressSnapshot{}, batch.ErrCheckpointNotFound
		}
		return batch.ProgressSnapshot{}, fmt.Errorf("open checkpoint object: %w", err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return batch.ProgressSnapshot{}, fmt.Errorf("read checkpoint object: %w", err)
	}
	var snap batch.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return batch.ProgressSnapshot{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return snap, nil
}

// Exists reports whether a checkpoint object exists for batchID.
func (s *GCSStore) Exists(ctx context.Context, batchID string) (bool, error) {
	_, err := s.object(batchID).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat checkpoint object: %w", err)
	}
	return true, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}

func (s *GCSStore) object(batchID string) *storage.ObjectHandle {
	name := url.PathEscape(batchID) + ".json"
	if s.prefix != "" {
		name = s.prefix + "/" + name
	}
	return s.client.Bucket(s.bucket).Object(name)
}
