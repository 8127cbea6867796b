// Package archive ships completed run results to long-term storage so the
// runs table can be pruned without losing history.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"payment-status-orchestrator/internal/config"
)

// Archiver stores one completed run's result document and returns its
// location.
type Archiver interface {
	Archive(ctx context.Context, runID string, result []byte) (string, error)
}

// New picks an archiver from config: S3 when a bucket is set, a local
// directory as fallback, nil when archival is disabled.
func New(ctx context.Context, cfg config.Config) (Archiver, error) {
	if cfg.ArchiveBucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &s3Archiver{client: client, bucket: cfg.ArchiveBucket}, nil
	}
	if cfg.ArchiveLocalDir != "" {
		return &localArchiver{baseDir: cfg.ArchiveLocalDir}, nil
	}
	return nil, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArchiveRegion),
	}
	if cfg.ArchiveEndpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArchiveEndpoint,
					HostnameImmutable: cfg.ArchivePathStyle,
					SigningRegion:     cfg.ArchiveRegion,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArchivePathStyle
	}), nil
}

type s3Archiver struct {
	client *s3.Client
	bucket string
}

func (a *s3Archiver) Archive(ctx context.Context, runID string, result []byte) (string, error) {
	key := fmt.Sprintf("runs/%s.json", runID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(result),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

type localArchiver struct {
	baseDir string
}

func (a *localArchiver) Archive(_ context.Context, runID string, result []byte) (string, error) {
	path := filepath.Join(a.baseDir, "runs", runID+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, result, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}
