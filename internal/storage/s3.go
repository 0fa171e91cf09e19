// Package storage archives raw fetched source text to S3-compatible
// storage so an ingestion run can be audited or replayed.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveConfig holds configuration for the snapshot archive.
type ArchiveConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
}

// Archive stores one object per fetched content item, keyed by tenant and
// locator hash.
type Archive struct {
	client *s3.Client
	bucket string
}

// NewArchive creates an Archive against S3 or any S3-compatible endpoint.
func NewArchive(ctx context.Context, cfg ArchiveConfig) (*Archive, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if cfg.Endpoint != "" {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		},
	)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		config.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Archive{client: client, bucket: cfg.Bucket}, nil
}

// SnapshotKey is the object key for one item's raw text.
func SnapshotKey(scrapeID, locator string) string {
	sum := sha256.Sum256([]byte(locator))
	return fmt.Sprintf("scrapes/%s/%s", scrapeID, hex.EncodeToString(sum[:]))
}

// PutSnapshot stores the raw text fetched for one locator.
func (a *Archive) PutSnapshot(ctx context.Context, scrapeID, locator, text string) error {
	key := SnapshotKey(scrapeID, locator)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(text)),
		ContentType: aws.String("text/plain; charset=utf-8"),
		Metadata:    map[string]string{"locator": locator},
	})
	if err != nil {
		return fmt.Errorf("failed to archive snapshot %s: %w", key, err)
	}
	return nil
}

// GetSnapshot retrieves a previously archived item.
func (a *Archive) GetSnapshot(ctx context.Context, scrapeID, locator string) (string, error) {
	key := SnapshotKey(scrapeID, locator)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot body %s: %w", key, err)
	}
	return string(body), nil
}

// DeleteSnapshot removes one archived item.
func (a *Archive) DeleteSnapshot(ctx context.Context, scrapeID, locator string) error {
	key := SnapshotKey(scrapeID, locator)
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}
	return nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
