// Package reports archives completed scan results to S3-compatible storage.
package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lyallcooper/scanstream/internal/types"
)

// Uploader is the object store operation the archive needs
type Uploader interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// Archive writes results as JSON objects under reports/
type Archive struct {
	store  Uploader
	bucket string
}

// New creates an archive writing to bucket
func New(store Uploader, bucket string) *Archive {
	return &Archive{store: store, bucket: bucket}
}

// Key returns the object key for a run
func Key(runID string) string {
	return "reports/" + runID + ".json"
}

// Archive uploads result and returns its object key
func (a *Archive) Archive(ctx context.Context, runID string, result *types.Result) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	key := Key(runID)
	if err := a.store.PutObject(ctx, a.bucket, key, data, "application/json"); err != nil {
		return "", fmt.Errorf("failed to upload report %s: %w", key, err)
	}
	return key, nil
}

// S3Client is an Uploader backed by minio-go
type S3Client struct {
	mc *minio.Client
}

// NewS3Client connects to an S3-compatible endpoint
func NewS3Client(endpoint, accessKey, secretKey string, useSSL bool) (*S3Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &S3Client{mc: mc}, nil
}

// EnsureBucket creates bucket if it does not exist
func (c *S3Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// PutObject uploads data to bucket/key
func (c *S3Client) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := c.mc.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}
