// Package miniostage binds the staging area to a MinIO bucket.
package miniostage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage"
)

// API is the subset of *minio.Client used by Stage.
type API interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

var _ API = (*minio.Client)(nil)

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string // e.g., "localhost:9000"
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string

	// CreateBucket makes the bucket when it does not exist
	CreateBucket bool
}

// Stage stores objects in one MinIO bucket.
type Stage struct {
	client API
	bucket string
}

var _ stage.Stage = (*Stage)(nil)

// New connects to MinIO and checks that the bucket exists.
func New(ctx context.Context, cfg Config) (*Stage, error) {
	if cfg.Bucket == "" {
		return nil, serrors.NewError("miniostage", serrors.CodeInvalidConfig, errors.New("bucket is required"))
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, serrors.NewError("miniostage", serrors.CodeInvalidConfig,
			fmt.Errorf("failed to create minio client: %w", err))
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if !cfg.CreateBucket {
			return nil, serrors.NewError("miniostage", serrors.CodeNotFound,
				fmt.Errorf("bucket %s does not exist", cfg.Bucket))
		}
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return NewWithClient(client, cfg.Bucket), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, bucket string) *Stage {
	return &Stage{client: client, bucket: bucket}
}

// Put implements stage.Stage. Without Overwrite an existing object is
// reported as a permanent error; the check and the write are not atomic.
func (s *Stage) Put(ctx context.Context, remotePath string, body io.Reader, size int64, opts stage.PutOptions) error {
	key := strings.TrimLeft(remotePath, "/")

	if !opts.Overwrite {
		exists, err := s.Exists(ctx, remotePath)
		if err != nil {
			return err
		}
		if exists {
			return serrors.PermanentUploadError(remotePath, errors.New("object already exists"))
		}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return serrors.Wrap(remotePath, Code(err), err)
	}
	return nil
}

// Exists implements stage.Stage.
func (s *Stage) Exists(ctx context.Context, remotePath string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, strings.TrimLeft(remotePath, "/"), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	var resp minio.ErrorResponse
	if errors.As(err, &resp) && (resp.Code == "NoSuchKey" || resp.StatusCode == 404) {
		return false, nil
	}
	return false, serrors.Wrap(remotePath, Code(err), err)
}

// Code maps a MinIO error to an ErrorCode.
func Code(err error) serrors.ErrorCode {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return serrors.CodeForbidden
		case "NoSuchBucket":
			return serrors.CodeNotFound
		case "InvalidBucketName", "XMinioInvalidObjectName", "InvalidObjectName":
			return serrors.CodeInvalidInput
		case "SlowDown", "SlowDownWrite", "XMinioServerNotInitialized":
			return serrors.CodeRateLimit
		case "RequestTimeout":
			return serrors.CodeTimeout
		case "InternalError", "ServiceUnavailable":
			return serrors.CodeUnavailable
		}
		if resp.StatusCode != 0 {
			return serrors.ClassifyHTTPStatus(resp.StatusCode)
		}
	}
	return serrors.Classify(err)
}
