package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	appcfg "github.com/mx-space/distill/internal/config"
)

// Store writes objects to an S3-compatible bucket.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// New builds a store from cfg. A custom endpoint implies path-style
// addressing, which is what MinIO and most S3 clones expect.
func New(cfg appcfg.ArchiveConfig) (*Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	region := strings.TrimSpace(cfg.Region)
	if bucket == "" || region == "" {
		return nil, fmt.Errorf("incomplete s3 config: bucket and region are required")
	}

	opts := s3.Options{
		Region:           region,
		UsePathStyle:     cfg.PathStyle,
		RetryMaxAttempts: 2,
	}
	if ak, sk := strings.TrimSpace(cfg.AccessKeyID), strings.TrimSpace(cfg.SecretAccessKey); ak != "" && sk != "" {
		opts.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(ak, sk, ""))
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(strings.TrimSuffix(endpoint, "/"))
		opts.UsePathStyle = true
	}

	return &Store{
		client: s3.New(opts),
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		now:    time.Now,
	}, nil
}

// Put uploads payload under key.
func (s *Store) Put(ctx context.Context, key string, payload []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// ArchiveInvalidOutput stores raw model output under
// <prefix>/<yyyy-mm-dd>/<uuid>.txt and returns the object key.
func (s *Store) ArchiveInvalidOutput(ctx context.Context, raw string) (string, error) {
	key := fmt.Sprintf("%s/%s.txt", s.now().UTC().Format("2006-01-02"), uuid.NewString())
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	if err := s.Put(ctx, key, []byte(raw), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}
	return key, nil
}
