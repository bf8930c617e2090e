// Package s3blob provides cold storage for settled trading history on
// S3-compatible object stores: AWS S3 itself, or MinIO and Cloudflare R2
// through a custom endpoint.
package s3blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds connection settings for the archive bucket.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	// Empty means standard AWS S3.
	Endpoint string

	// Region is required by the SDK even when the provider behind
	// Endpoint ignores it.
	Region string

	// Bucket holds the archives. Every object key in this package is
	// relative to it.
	Bucket string

	// AccessKey and SecretKey are static credentials. When both are
	// empty the default AWS credential chain applies (environment,
	// shared config, instance role).
	AccessKey string
	SecretKey string

	// UseSSL picks the scheme when Endpoint carries none.
	UseSSL bool

	// ForcePathStyle switches to path-style addressing, which MinIO and
	// most self-hosted stores require.
	ForcePathStyle bool
}

// Client is the shared connection to the archive bucket, used by the
// Reader, Writer, and Archiver in this package.
type Client struct {
	api    *s3.Client
	bucket string
}

// New builds the S3 client and verifies access with a HeadBucket call, so
// a wrong endpoint, bad credentials, or a missing bucket fail at startup
// instead of during the first archive sweep.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(withScheme(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	if _, err := api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("s3blob: head bucket %s: %w", cfg.Bucket, err)
	}

	return &Client{api: api, bucket: cfg.Bucket}, nil
}

// withScheme prepends http:// or https:// when the endpoint has no scheme.
func withScheme(endpoint string, useSSL bool) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
