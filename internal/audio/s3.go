package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/yegors/oasis-scribe/internal/config"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

const defaultURLExpiry = time.Hour

// S3Store uploads audio to a bucket and hands out presigned GET URLs
type S3Store struct {
	s3     *s3.S3
	bucket string
	expiry time.Duration
	logger *logger.Logger
}

// NewS3Store creates a store for the given bucket. It refuses partial
// configuration rather than failing on first upload.
func NewS3Store(cfg config.RemoteStorage, logger *logger.Logger) (*S3Store, error) {
	if cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, ErrNotConfigured
	}

	awsConf := &aws.Config{
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Region:      aws.String(cfg.Region),
	}
	if cfg.Endpoint != "" {
		awsConf.Endpoint = aws.String(cfg.Endpoint)
		awsConf.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = defaultURLExpiry
	}

	return &S3Store{
		s3:     s3.New(sess),
		bucket: cfg.Bucket,
		expiry: expiry,
		logger: logger.Named("s3-store"),
	}, nil
}

// Kind implements Store
func (s *S3Store) Kind() string { return string(config.StorageRemote) }

// KeepsSource implements Store
func (s *S3Store) KeepsSource() bool { return false }

// Put uploads the file under its slot name and returns that name as the key
func (s *S3Store) Put(ctx context.Context, upload *TempFile) (string, error) {
	f, err := upload.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	key := upload.Name()
	contentType := upload.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	size := upload.Size()

	start := time.Now()
	_, err = s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to s3://%s: %w", key, s.bucket, err)
	}

	s.logger.Debug("Uploaded audio",
		logger.String("key", key),
		logger.Int64("bytes", size),
		logger.Duration("duration", time.Since(start)))

	return key, nil
}

// Resolve presigns a GET for the key. Every call signs anew.
func (s *S3Store) Resolve(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	req, _ := s.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	req.SetContext(ctx)

	url, err := req.Presign(s.expiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return url, nil
}
