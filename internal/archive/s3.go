// s3.go implements the S3-compatible archive backend. It works against AWS S3,
// MinIO, and DigitalOcean Spaces via a configurable endpoint. Static
// credentials are used when configured; otherwise the default AWS chain (env,
// shared config, IAM role) applies.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/propty-os/access-engine/internal/config"
	"github.com/propty-os/access-engine/internal/db/models"
)

// S3Store writes batches to one bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds the client from configuration.
func NewS3Store(cfg config.S3ArchiveConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 archive region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// path-style addressing for MinIO and other non-AWS endpoints
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) WriteBatch(ctx context.Context, companyID, entityType string, logs []*models.ActivityLog) (string, error) {
	if len(logs) == 0 {
		return "", nil
	}

	data, err := encodeBatch(logs)
	if err != nil {
		return "", err
	}

	key := batchKey(companyID, entityType, time.Now())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload batch: %w", err)
	}
	return key, nil
}

func (s *S3Store) ReadAll(ctx context.Context, companyID, entityType string) ([]*models.ActivityLog, error) {
	prefix := companyID + "/" + entityType + "/"

	var logs []*models.ActivityLog
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list archive batches: %w", err)
		}
		for _, obj := range page.Contents {
			out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to fetch batch %s: %w", aws.ToString(obj.Key), err)
			}
			batch, err := decodeBatch(out.Body)
			out.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("batch %s: %w", aws.ToString(obj.Key), err)
			}
			logs = append(logs, batch...)
		}
	}
	return logs, nil
}

func (s *S3Store) Purge(ctx context.Context, companyID, entityType string, olderThan time.Time) error {
	prefix := companyID + "/" + entityType + "/"

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list archive batches: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			date := batchDate(key, companyID, entityType)
			if date.IsZero() || !date.Before(olderThan) {
				continue
			}
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			}); err != nil {
				return fmt.Errorf("failed to purge batch %s: %w", key, err)
			}
		}
	}
	return nil
}
