package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	MaxBytes  int64
}

// MinioStore keeps images in an S3-compatible bucket. Object PUTs are atomic.
type MinioStore struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
}

// NewMinioStore connects and creates the bucket when it does not exist yet.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, maxBytes: maxBytes}, nil
}

func (m *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty payload")
	}
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentTypeFor(data, contentType),
	})
	if err != nil {
		return fmt.Errorf("minio put %q: %w", key, err)
	}
	return nil
}

func (m *MinioStore) Get(ctx context.Context, key string) (Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, mapMinioErr(key, err)
	}
	defer obj.Close()

	// GetObject is lazy; Stat surfaces a missing key.
	info, err := obj.Stat()
	if err != nil {
		return Object{}, mapMinioErr(key, err)
	}
	if info.Size > m.maxBytes {
		return Object{}, fmt.Errorf("minio object %q exceeds %d bytes", key, m.maxBytes)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return Object{}, mapMinioErr(key, err)
	}
	return Object{Data: data, ContentType: contentTypeFor(data, info.ContentType)}, nil
}

func mapMinioErr(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("minio get %q: %w", key, err)
}
