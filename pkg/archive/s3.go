// Package archive uploads completed profiles to object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apmconfig "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
)

// PutObjectAPI is the subset of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes profiles to a bucket under a key prefix.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Archiver wraps an existing client.
func NewS3Archiver(client PutObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// NewFromConfig builds an archiver from the default AWS credential chain.
func NewFromConfig(ctx context.Context, cfg apmconfig.ProfilingConfig) (*S3Archiver, error) {
	if cfg.ArchiveBucket == "" {
		return nil, apmerrors.New(apmerrors.ComponentProfiling, "new_archiver", "archive bucket is not set", apmerrors.ErrInvalidArgument)
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.ArchiveRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.ArchiveRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, cfg.ArchivePrefix), nil
}

// Archive uploads data under prefix/key and returns its s3:// location.
func (a *S3Archiver) Archive(ctx context.Context, key string, data []byte) (string, error) {
	objectKey := path.Join(a.prefix, key)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(objectKey),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/octet-stream"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return "", apmerrors.New(apmerrors.ComponentProfiling, "archive_profile", "failed to upload profile", err).
			WithContext("bucket", a.bucket).
			WithContext("key", objectKey)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, objectKey), nil
}
