package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/imgmeta/imgmeta/internal/config"
)

// S3API defines the subset of the AWS S3 client interface that the backend
// uses. This allows mocking in tests.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// AWSBackend reads objects from Amazon S3 (or any S3-compatible endpoint).
// Record buckets map one-to-one onto S3 buckets.
type AWSBackend struct {
	// Region is the AWS region of the client.
	Region string
	// HealthBucket is probed by HealthCheck. Empty skips the probe.
	HealthBucket string
	// client is the AWS S3 client (satisfying S3API interface).
	client S3API
}

// NewAWSBackend creates an AWSBackend using the default credential chain,
// with optional overrides for custom endpoint, path-style addressing, and
// static credentials.
func NewAWSBackend(ctx context.Context, cfg *config.AWSConfig) (*AWSBackend, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(region))

	// Use static credentials if provided, otherwise fall back to default chain.
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	b := NewAWSBackendWithClient(region, cfg.HealthBucket, s3.NewFromConfig(awsCfg, s3Opts...))
	slog.Info("AWS storage backend initialized", "region", region, "endpoint", cfg.EndpointURL)
	return b, nil
}

// NewAWSBackendWithClient creates an AWSBackend with a pre-configured S3
// client. This is primarily used for testing with mock clients.
func NewAWSBackendWithClient(region, healthBucket string, client S3API) *AWSBackend {
	return &AWSBackend{
		Region:       region,
		HealthBucket: healthBucket,
		client:       client,
	}
}

// GetObject streams the object body. SDK errors are wrapped, not replaced,
// so callers can read the status S3 reported.
func (b *AWSBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, 0, fmt.Errorf("object not found: %s/%s: %w", bucket, key, err)
		}
		return nil, 0, fmt.Errorf("getting object from S3: %w", err)
	}

	objectSize := int64(-1)
	if resp.ContentLength != nil {
		objectSize = *resp.ContentLength
	}
	return resp.Body, objectSize, nil
}

// HealthCheck verifies that HealthBucket is accessible.
func (b *AWSBackend) HealthCheck(ctx context.Context) error {
	if b.HealthBucket == "" {
		return nil
	}
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.HealthBucket),
	})
	return err
}

// isAWSNotFound checks if an AWS error is a 404/NoSuchKey/NotFound error.
func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" || code == "NoSuchBucket" {
			return true
		}
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return true
		}
	}
	return false
}

var _ ObjectStore = (*AWSBackend)(nil)
