package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/e2elab/runnoor/pkg/config"
)

// Compile-time interface check.
var _ Storage = (*s3Storage)(nil)

type s3Storage struct {
	client        *s3.Client
	bucket        string
	prefix        string
	publicBaseURL string
}

// NewS3Storage creates Storage backed by S3-compatible object storage.
func NewS3Storage(cfg *config.S3StorageConfig) Storage {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	prefix := strings.TrimRight(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "videos"
	}

	return &s3Storage{
		client:        s3.New(s3.Options{}, opts...),
		bucket:        cfg.Bucket,
		prefix:        prefix,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}
}

// Save uploads the content to s3://{bucket}/{prefix}/{name}.
func (s *s3Storage) Save(ctx context.Context, name string, r io.Reader) error {
	key := s.prefix + "/" + path.Base(name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(detectContentType(name)),
	})
	if err != nil {
		return fmt.Errorf("putting object %q: %w", key, err)
	}

	return nil
}

// URL returns the public URL for a saved object. When no public base URL
// is configured the S3 key is returned so callers can presign it.
func (s *s3Storage) URL(name string) string {
	key := s.prefix + "/" + path.Base(name)

	if s.publicBaseURL == "" {
		return key
	}

	return s.publicBaseURL + "/" + key
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return "application/octet-stream"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}
