// Package objectstore fetches universe and price snapshots from S3-compatible storage.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Scheme is the URI prefix routed to object storage.
const Scheme = "s3://"

// Config holds object storage settings. Endpoint is set for MinIO/R2-style
// services and switches the client to path-style addressing.
type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Client downloads whole objects into memory
type Client struct {
	s3         *s3.Client
	downloader *manager.Downloader
	log        zerolog.Logger
}

// New builds a client from the default AWS credential chain, or from static
// keys when both are given.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{
		s3:         client,
		downloader: manager.NewDownloader(client),
		log:        log.With().Str("client", "objectstore").Logger(),
	}, nil
}

// ParseURI splits s3://bucket/key into its parts
func ParseURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, Scheme) {
		return "", "", fmt.Errorf("not an object storage URI: %q", uri)
	}
	rest := strings.TrimPrefix(uri, Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("object storage URI must be s3://bucket/key, got %q", uri)
	}
	return bucket, key, nil
}

// Download fetches an object fully into memory
func (c *Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	n, err := c.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}

	c.log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("bytes", n).
		Msg("Downloaded object")

	return buf.Bytes(), nil
}

// Open downloads the object named by an s3:// URI and returns a reader over it
func (c *Client) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	data, err := c.Download(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
