// Package filestore hands out short-lived download links for purchased files.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// DefaultURLTTL is how long a presigned download link stays valid.
const DefaultURLTTL = 5 * time.Minute

// ErrNotConfigured is returned when no bucket is configured.
var ErrNotConfigured = errors.New("filestore: not configured")

// Config describes the bucket holding product files. Endpoint is set for
// S3-compatible providers and switches the client to path-style URLs.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	URLTTL          time.Duration
}

// Enabled reports whether enough is configured to sign URLs.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// Presigner signs GET requests for objects in a single bucket.
type Presigner struct {
	bucket  string
	ttl     time.Duration
	presign *s3.PresignClient
}

// NewPresigner builds a presigner from cfg. Without static keys the default
// AWS credential chain is used.
func NewPresigner(ctx context.Context, cfg Config) (*Presigner, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("filestore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}

	log.Info().Str("component", "filestore").Str("bucket", cfg.Bucket).Dur("ttl", ttl).Msg("download presigner ready")
	return &Presigner{bucket: cfg.Bucket, ttl: ttl, presign: s3.NewPresignClient(client)}, nil
}

// PresignDownload returns a time-limited GET URL for key.
func (p *Presigner) PresignDownload(ctx context.Context, key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("filestore: presign: empty object key")
	}

	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return "", fmt.Errorf("filestore: presign %s: %w", key, err)
	}
	return req.URL, nil
}
