// Package s3stage binds the staging area to an Amazon S3 (or S3-compatible)
// bucket using aws-sdk-go-v2.
package s3stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage"
)

// S3API is the subset of the S3 client used by Stage.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// Config holds the settings used by New.
type Config struct {
	Bucket    string
	KeyPrefix string
	Region    string

	// Endpoint overrides the S3 endpoint, e.g. for LocalStack
	Endpoint string

	ForcePathStyle bool

	// AccessKeyID and SecretAccessKey select static credentials instead of
	// the default credential chain.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// SDKRetries is the SDK's own attempt count. The uploader retries on
	// its own, so the default is a single attempt.
	SDKRetries int
}

// Option configures a Config.
type Option func(*Config)

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(c *Config) {
		c.Region = region
	}
}

// WithEndpoint sets a custom endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithForcePathStyle enables path-style addressing.
func WithForcePathStyle(enabled bool) Option {
	return func(c *Config) {
		c.ForcePathStyle = enabled
	}
}

// WithStaticCredentials uses fixed credentials.
func WithStaticCredentials(accessKeyID, secretAccessKey, sessionToken string) Option {
	return func(c *Config) {
		c.AccessKeyID = accessKeyID
		c.SecretAccessKey = secretAccessKey
		c.SessionToken = sessionToken
	}
}

// WithKeyPrefix prepends prefix to every remote path.
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = strings.Trim(prefix, "/")
	}
}

// WithSDKRetries sets the SDK's attempt count.
func WithSDKRetries(n int) Option {
	return func(c *Config) {
		c.SDKRetries = n
	}
}

// Stage stores objects in one bucket.
type Stage struct {
	client    S3API
	bucket    string
	keyPrefix string
}

var _ stage.Stage = (*Stage)(nil)

// New builds a Stage for bucket from the default AWS credential chain, or
// from static credentials when configured.
func New(ctx context.Context, bucket string, opts ...Option) (*Stage, error) {
	cfg := Config{Bucket: bucket, SDKRetries: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Bucket == "" {
		return nil, serrors.NewError("s3stage", serrors.CodeInvalidConfig, errors.New("bucket is required"))
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	if cfg.SDKRetries > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(cfg.SDKRetries))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, serrors.NewError("s3stage", serrors.CodeInvalidConfig,
			fmt.Errorf("failed to load AWS config: %w", err))
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewWithClient(client, cfg.Bucket, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client S3API, bucket, keyPrefix string) *Stage {
	return &Stage{
		client:    client,
		bucket:    bucket,
		keyPrefix: strings.Trim(keyPrefix, "/"),
	}
}

func (s *Stage) key(remotePath string) string {
	remotePath = strings.TrimLeft(remotePath, "/")
	if s.keyPrefix == "" {
		return remotePath
	}
	return s.keyPrefix + "/" + remotePath
}

// Put implements stage.Stage. Without Overwrite the write is conditional on
// the key being absent (If-None-Match: *).
func (s *Stage) Put(ctx context.Context, remotePath string, body io.Reader, size int64, opts stage.PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(remotePath)),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}
	if !opts.Overwrite {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return classify(remotePath, err)
	}
	return nil
}

// Exists implements stage.Stage.
func (s *Stage) Exists(ctx context.Context, remotePath string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(remotePath)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, classify(remotePath, err)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404
}

// permanentCodes are S3 error codes that no retry will fix.
var permanentCodes = map[string]serrors.ErrorCode{
	"AccessDenied":          serrors.CodeForbidden,
	"InvalidAccessKeyId":    serrors.CodeForbidden,
	"SignatureDoesNotMatch": serrors.CodeForbidden,
	"NoSuchBucket":          serrors.CodeNotFound,
	"InvalidBucketName":     serrors.CodeInvalidInput,
	"InvalidObjectName":     serrors.CodeInvalidInput,
	"KeyTooLongError":       serrors.CodeInvalidInput,
	"PreconditionFailed":    serrors.CodeConflict,
	"EntityTooLarge":        serrors.CodeInvalidInput,
}

// transientCodes are S3 error codes worth another attempt.
var transientCodes = map[string]serrors.ErrorCode{
	"SlowDown":           serrors.CodeRateLimit,
	"Throttling":         serrors.CodeRateLimit,
	"RequestTimeout":     serrors.CodeTimeout,
	"InternalError":      serrors.CodeUnavailable,
	"ServiceUnavailable": serrors.CodeUnavailable,
}

// Code maps an SDK error to an ErrorCode.
func Code(err error) serrors.ErrorCode {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if code, ok := permanentCodes[apiErr.ErrorCode()]; ok {
			return code
		}
		if code, ok := transientCodes[apiErr.ErrorCode()]; ok {
			return code
		}
	}

	if code := serrors.Classify(err); code != serrors.CodeUnknown {
		return code
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return serrors.ClassifyHTTPStatus(respErr.HTTPStatusCode())
	}
	return serrors.CodeUnknown
}

func classify(remotePath string, err error) error {
	return serrors.Wrap(remotePath, Code(err), err)
}
