// Package reports archives scheduler run reports in S3-compatible object
// storage so uncertain payouts can be reconciled after the fact.
package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	sc "github.com/dmitrijs2005/walletkeeper/internal/server/config"
	"github.com/google/uuid"
)

// seams for tests
var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = s3.NewFromConfig
)

// ObjectPutter is the part of *s3.Client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Archive struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewArchive wraps an existing client.
func NewArchive(client ObjectPutter, bucket, prefix string) *Archive {
	return &Archive{client: client, bucket: bucket, prefix: prefix}
}

// New builds an archive for the configured bucket. It returns nil without
// error when no bucket is configured.
func New(ctx context.Context, cfg *sc.Config) (*Archive, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("error loading s3 config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return NewArchive(client, cfg.S3Bucket, "scheduler-runs"), nil
}

// Key returns the object key for a report of kind started at t.
func (a *Archive) Key(kind string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/%d/%02d/%02d/%s-%s.json",
		a.prefix, kind, t.Year(), t.Month(), t.Day(), t.Format("150405"), uuid.NewString())
}

// Store uploads report as JSON and returns its key.
func (a *Archive) Store(ctx context.Context, kind string, startedAt time.Time, report any) (string, error) {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error encoding report: %w", err)
	}

	key := a.Key(kind, startedAt)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("error uploading report: %w", err)
	}
	return key, nil
}
