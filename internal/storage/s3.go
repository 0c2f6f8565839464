package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/timmy/curator/internal/config"
)

// Values accepted for archive.type.
const (
	BackendR2           = "r2"
	BackendS3           = "s3"
	BackendS3Compatible = "s3compatible"
)

// BucketStore keeps archived link health reports in one S3-compatible bucket.
type BucketStore struct {
	client    *s3.Client
	bucket    string
	backend   string
	publicURL string
}

var _ ObjectStore = (*BucketStore)(nil)

// NewBucketStore builds a client for the archive bucket. No request is made;
// call EnsureBucket to verify the bucket before the first run is archived.
func NewBucketStore(ctx context.Context, cfg *config.ArchiveConfig) (*BucketStore, error) {
	backend := resolveBackend(cfg)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(archiveRegion(backend, cfg.Region)),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive credentials: %w", err)
	}

	endpoint := endpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		// R2 and MinIO do not serve virtual-hosted buckets
		o.UsePathStyle = true
	})

	return &BucketStore{
		client:    client,
		bucket:    cfg.Bucket,
		backend:   backend,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// resolveBackend honours archive.type and otherwise guesses from the endpoint host.
func resolveBackend(cfg *config.ArchiveConfig) string {
	if t := strings.ToLower(strings.TrimSpace(cfg.Type)); t != "" {
		return t
	}
	host := strings.ToLower(hostOf(cfg.Endpoint))
	switch {
	case strings.Contains(host, ".r2.cloudflarestorage.com"):
		return BackendR2
	case strings.Contains(host, ".amazonaws.com"):
		return BackendS3
	default:
		return BackendS3Compatible
	}
}

func archiveRegion(backend, region string) string {
	switch {
	case region != "":
		return region
	case backend == BackendR2:
		return "auto"
	default:
		return "us-east-1"
	}
}

// hostOf strips the scheme and any path from endpoint.
func hostOf(endpoint string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return host
}

func endpointURL(endpoint string, useSSL bool) string {
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + hostOf(endpoint)
}

// EnsureBucket checks the archive bucket and creates it where the backend allows.
func (b *BucketStore) EnsureBucket(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err == nil {
		return nil
	}
	if b.backend == BackendR2 {
		return fmt.Errorf("archive bucket %s not found; R2 buckets must be created from the dashboard", b.bucket)
	}
	if _, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return fmt.Errorf("failed to create archive bucket %s: %w", b.bucket, err)
	}
	return nil
}

func (b *BucketStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (b *BucketStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return out.Body, nil
}

// URL prefers the public URL (an r2.dev domain or CDN) and falls back to s3://bucket/key.
func (b *BucketStore) URL(key string) string {
	if b.publicURL == "" {
		return fmt.Sprintf("s3://%s/%s", b.bucket, key)
	}
	return b.publicURL + "/" + key
}
