package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/vidshare/backend/internal/config"
	"github.com/vidshare/backend/pkg/logger"
	"go.uber.org/zap"
)

// ObjectStore holds video binaries addressed by key.
type ObjectStore interface {
	// Put writes body under key and returns its retrieval URL.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	// URL returns the retrieval URL of key without touching the store.
	URL(key string) string
}

type S3Config struct {
	Bucket     string
	Region     string
	Endpoint   string // empty = AWS
	AccessKey  string // empty = default credential chain
	SecretKey  string
	CDNBaseURL string
	MaxRetries int
}

// S3ConfigFrom picks the object store settings out of the app config.
func S3ConfigFrom(cfg *config.Config) S3Config {
	return S3Config{
		Bucket:     cfg.S3Bucket,
		Region:     cfg.S3Region,
		Endpoint:   cfg.S3Endpoint,
		AccessKey:  cfg.S3AccessKey,
		SecretKey:  cfg.S3SecretKey,
		CDNBaseURL: cfg.CDNBaseURL,
		MaxRetries: 2,
	}
}

type S3Store struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	region   string
	endpoint string
	cdnBase  string
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsCfg := &aws.Config{
		Region:     aws.String(cfg.Region),
		MaxRetries: aws.Int(cfg.MaxRetries),
	}
	if cfg.Endpoint != "" {
		// MinIO and other S3-compatible stores want path-style addressing
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}

	client := s3.New(sess)
	return &S3Store{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		cdnBase:  strings.TrimSuffix(cfg.CDNBaseURL, "/"),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	result, err := s.uploader.UploadWithContext(ctx, input)
	if err != nil {
		logger.Log.Error("S3 upload failed",
			zap.String("bucket", s.bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	logger.Log.Debug("S3 upload completed",
		zap.String("key", key),
		zap.String("location", result.Location),
	)

	if s.cdnBase != "" {
		return s.URL(key), nil
	}
	return result.Location, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		logger.Log.Error("S3 delete failed",
			zap.String("bucket", s.bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) URL(key string) string {
	escaped := escapeKey(key)
	switch {
	case s.cdnBase != "":
		return s.cdnBase + "/" + escaped
	case s.endpoint != "":
		return s.endpoint + "/" + s.bucket + "/" + escaped
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped)
	}
}

// escapeKey escapes each path segment and keeps the separators.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
