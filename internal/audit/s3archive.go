package audit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cyberguard/soar-engine/internal/model"
)

// S3Archiver implements Archiver by shipping each batch as one
// newline-delimited-JSON object under bucket/prefix, grounded on the
// pack's S3-backed artifact store idiom (config.LoadDefaultConfig +
// s3.NewFromConfig + PutObject).
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archiver loads the default AWS config for region and returns an
// S3Archiver targeting bucket/prefix. Returns nil, nil if bucket is empty
// (archival disabled, spec: "Empty disables archival").
func NewS3Archiver(ctx context.Context, region, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("audit: load AWS config: %w", err)
	}
	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// Archive implements Archiver.
func (a *S3Archiver) Archive(ctx context.Context, batch []*model.AuditEvent) error {
	body, err := marshalBatch(batch)
	if err != nil {
		return err
	}

	ts := a.now()
	key := fmt.Sprintf("%s/%04d/%02d/%02d/%s-%d.ndjson", a.prefix, ts.Year(), ts.Month(), ts.Day(), batch[0].ID, ts.UnixNano())

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("audit: s3 put %s: %w", key, err)
	}
	return nil
}
