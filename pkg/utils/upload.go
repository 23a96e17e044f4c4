package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
)

// Uploader publishes a finished bundle somewhere outside the host.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// GCSUploader copies bundles into a Cloud Storage bucket.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSUploader creates a client with application default credentials.
func NewGCSUploader(ctx context.Context, bucket, prefix string) (*GCSUploader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket, prefix: prefix}, nil
}

// Upload writes localPath to gs://<bucket>/<prefix><base name> and returns
// that URI.
func (u *GCSUploader) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open bundle: %w", err)
	}
	defer f.Close()

	object := u.prefix + filepath.Base(localPath)
	w := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/zip"

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload bundle: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, object), nil
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
