package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrObjectNotFound = errors.New("object not found")

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

// Client stages job uploads and SVG outputs in a single bucket.
type Client struct {
	minio  *minio.Client
	bucket string
}

func NewClient(cfg Config) (*Client, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client for %s: %w", cfg.Endpoint, err)
	}
	return &Client{minio: mc, bucket: bucket}, nil
}

// UploadKey is where the API stages the index-th file of a job.
func UploadKey(jobID string, index int) string {
	return fmt.Sprintf("uploads/%s/%d", jobID, index)
}

// OutputKey is where the worker writes the SVG for the index-th file of a job.
func OutputKey(jobID string, index int) string {
	return fmt.Sprintf("outputs/%s/%d.svg", jobID, index)
}

func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket on first start. Losing a creation race to another replica
// is fine.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}

	err = c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return nil
	}
	return fmt.Errorf("create bucket %s: %w", c.bucket, err)
}

// ReadObject returns the whole object. A missing key wraps ErrObjectNotFound.
func (c *Client) ReadObject(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := c.minio.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.objectError("get", objectKey, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, c.objectError("read", objectKey, err)
	}
	return data, nil
}

func (c *Client) WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := c.minio.PutObject(ctx, c.bucket, objectKey, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return nil
}

// RemoveObject deletes objectKey. A missing object is not an error.
func (c *Client) RemoveObject(ctx context.Context, objectKey string) error {
	err := c.minio.RemoveObject(ctx, c.bucket, objectKey, minio.RemoveObjectOptions{})
	if err == nil || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("remove object %s: %w", objectKey, err)
}

func (c *Client) objectError(op, objectKey string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s object %s/%s: %w", op, c.bucket, objectKey, ErrObjectNotFound)
	}
	return fmt.Errorf("%s object %s/%s: %w", op, c.bucket, objectKey, err)
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return true
	}
	return false
}
