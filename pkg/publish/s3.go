package publish

import (
	"context"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/companyatlas/atlas/pkg/errors"
)

// S3Uploader ships export artifacts to an S3 staging bucket.
type S3Uploader struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   *zap.Logger
}

// NewS3Uploader builds an uploader from the ambient AWS credential chain.
func NewS3Uploader(ctx context.Context, bucket, prefix string, logger *zap.Logger) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load aws configuration")
	}
	client := s3.NewFromConfig(cfg)
	return &S3Uploader{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
		logger:   logger.With(zap.String("component", "s3_uploader"), zap.String("bucket", bucket)),
	}, nil
}

// UploadFile puts a local artifact under prefix/basename in the bucket.
func (u *S3Uploader) UploadFile(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransient, "failed to open artifact for upload").
			WithDetail("path", path)
	}
	defer file.Close()

	key := filepath.Join(u.prefix, filepath.Base(path))
	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &u.bucket,
		Key:    &key,
		Body:   file,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransient, "artifact upload failed").
			WithDetail("bucket", u.bucket).
			WithDetail("key", key)
	}

	u.logger.Info("artifact uploaded", zap.String("key", key))
	return nil
}
