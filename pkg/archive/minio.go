package archive

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	prefix          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
	createBucket    bool
}

func newMinioConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{
		useSSL:       false,
		createBucket: true,
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// MinioUploader uploads finished archives to an S3-compatible bucket.
type MinioUploader struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewMinioUploader(opts ...MinioOpts) (*MinioUploader, error) {
	cfg := newMinioConfig(opts...)
	if cfg.endpoint == "" || cfg.bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}

	minioClient, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, err
	}

	return &MinioUploader{cfg: cfg, client: minioClient}, nil
}

// ObjectName returns the object key an archive file is stored under.
func (u *MinioUploader) ObjectName(file string) string {
	name := filepath.Base(file)
	if u.cfg.prefix == "" {
		return name
	}
	return path.Join(u.cfg.prefix, name)
}

// Upload implements Uploader.
func (u *MinioUploader) Upload(ctx context.Context, file string) error {
	if u.cfg.createBucket {
		exists, err := u.client.BucketExists(ctx, u.cfg.bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", u.cfg.bucket, err)
		}
		if !exists {
			if err := u.client.MakeBucket(ctx, u.cfg.bucket, minio.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", u.cfg.bucket, err)
			}
		}
	}

	object := u.ObjectName(file)
	info, err := u.client.FPutObject(ctx, u.cfg.bucket, object, file, minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", u.cfg.bucket, object, err)
	}

	log.Info().
		Str("component", "archive").
		Str("bucket", u.cfg.bucket).
		Str("object", object).
		Int64("bytes", info.Size).
		Msg("Archive uploaded")
	return nil
}

func (u *MinioUploader) Type() string {
	return "minio"
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) {
		c.bucket = bucket
	}
}

func WithPrefix(prefix string) MinioOpts {
	return func(c *minioConfig) {
		c.prefix = prefix
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}

func WithCreateBucket(create bool) MinioOpts {
	return func(c *minioConfig) {
		c.createBucket = create
	}
}
