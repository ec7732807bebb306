package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joshp123/melcloud/internal/config"
)

// S3 stores records as objects in an S3-compatible bucket.
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3(cfg *config.BlobConfig) (*S3, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing blob config")
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.TrimSpace(cfg.Bucket)
	prefix := strings.TrimSpace(cfg.Prefix)
	accessKeyFile := strings.TrimSpace(cfg.AccessKeyFile)
	secretKeyFile := strings.TrimSpace(cfg.SecretKeyFile)

	if endpoint == "" || bucket == "" || accessKeyFile == "" || secretKeyFile == "" {
		return nil, fmt.Errorf("missing blob configuration")
	}

	accessKey, err := readSecretFile(accessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read blob access key: %w", err)
	}
	secretKey, err := readSecretFile(secretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read blob secret key: %w", err)
	}

	host, secure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	if prefix == "" {
		prefix = config.DefaultBlobPrefix
	}

	return &S3{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3) Load(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError(err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return nil, s.wrapError(err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *S3) Save(ctx context.Context, key string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, s.key(key), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return s.wrapError(err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(key), minio.RemoveObjectOptions{}); err != nil {
		return s.wrapError(err)
	}
	return nil
}

func (s *S3) key(key string) string {
	return path.Join(s.prefix, key+".json")
}

func (s *S3) wrapError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}

func parseEndpoint(raw string) (string, bool, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint: %w", err)
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint: %q", raw)
		}
		return u.Host, u.Scheme == "https", nil
	}
	return raw, true, nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
