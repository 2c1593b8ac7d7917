// Package s3 lands snapshot artifacts in an S3 bucket. The endpoint
// and force-path-style knobs exist for minio-backed studio setups.
package s3

import (
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

type Repository struct {
	logger   *zap.Logger
	uploader *s3manager.Uploader

	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	ForcePathStyle bool
}

type Option func(*Repository)

func WithRegion(region string) Option {
	return func(r *Repository) {
		r.Region = region
	}
}

func WithBucket(bucket string) Option {
	return func(r *Repository) {
		r.Bucket = bucket
	}
}

func WithPrefix(prefix string) Option {
	return func(r *Repository) {
		r.Prefix = prefix
	}
}

func WithEndpoint(endpoint string) Option {
	return func(r *Repository) {
		r.Endpoint = endpoint
	}
}

func WithForcePathStyle(forcePathStyle bool) Option {
	return func(r *Repository) {
		r.ForcePathStyle = forcePathStyle
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		r.logger = logger.Named("stagehand.archive.s3")
	}
}

func New(opts ...Option) (*Repository, error) {
	r := &Repository{
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}

	awsConfig := &aws.Config{
		Region:           aws.String(r.Region),
		S3ForcePathStyle: aws.Bool(r.ForcePathStyle),
	}
	if r.Endpoint != "" {
		awsConfig.Endpoint = aws.String(r.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, err
	}
	r.uploader = s3manager.NewUploader(sess)

	return r, nil
}

func (r *Repository) Write(ctx context.Context, key string, reader io.Reader) error {
	objPath := path.Join(r.Prefix, key)

	r.logger.Debug("uploading object",
		zap.String("bucket", r.Bucket),
		zap.String("object_path", objPath))

	_, err := r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(objPath),
		Body:   reader,
	})
	return err
}

// Flush is a no-op; uploads complete synchronously in Write.
func (r *Repository) Flush(ctx context.Context) error {
	return nil
}
