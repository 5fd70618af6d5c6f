package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3-compatible object store. Works against AWS S3,
// MinIO, or any other service exposing the S3 API.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
}

// S3Storage implements Backend over an S3-compatible object store, keeping
// objects under a single "media/<id>" prefix with no metadata sidecar or
// at-rest encryption. Access control is enforced entirely by signed URLs
// (signing lives in signer.go), not by bucket policy.
type S3Storage struct {
	client *minio.Client
	bucket string
}

// NewS3Storage connects to the configured S3-compatible endpoint and
// ensures the target bucket exists.
func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("S3 endpoint cannot be empty")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket cannot be empty")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &S3Storage{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(id string) string { return "media/" + id }

// Put uploads a blob. S3's strong read-after-write consistency means no
// temp-key-then-rename dance is needed.
func (s *S3Storage) Put(ctx context.Context, id string, r io.Reader, size int64, contentType string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(id), r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

// Get retrieves a blob.
func (s *S3Storage) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		var minioErr minio.ErrorResponse
		if errors.As(err, &minioErr) && minioErr.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat blob: %w", err)
	}
	return obj, nil
}

// Delete removes a blob. A missing object is not an error.
func (s *S3Storage) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(id), minio.RemoveObjectOptions{}); err != nil {
		var minioErr minio.ErrorResponse
		if errors.As(err, &minioErr) && minioErr.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
