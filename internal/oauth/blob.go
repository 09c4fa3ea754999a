package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/supergoudvis116/joule-connector/internal/config"
)

var ErrBlobNotFound = errors.New("session blob not found")

// BlobStore mirrors persisted sessions off-host so a rebuilt machine can
// resume without a fresh login.
type BlobStore interface {
	Load(ctx context.Context, provider string) ([]byte, error)
	Save(ctx context.Context, provider string, data []byte) error
}

// NopStore is used when no blob endpoint is configured.
type NopStore struct{}

func (NopStore) Load(context.Context, string) ([]byte, error) { return nil, ErrBlobNotFound }

func (NopStore) Save(context.Context, string, []byte) error { return nil }

// NewBlobStore returns an S3 store when an endpoint is configured and a
// NopStore otherwise.
func NewBlobStore(cfg *config.OAuthConfig) (BlobStore, error) {
	if cfg == nil || strings.TrimSpace(cfg.BlobEndpoint) == "" {
		return NopStore{}, nil
	}
	return NewS3Store(cfg)
}

// S3Store keeps one object per provider under a key prefix.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(cfg *config.OAuthConfig) (*S3Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("oauth config is required")
	}
	bucket := strings.TrimSpace(cfg.BlobBucket)
	if bucket == "" {
		return nil, fmt.Errorf("blob bucket is required")
	}
	host, secure, err := splitEndpoint(cfg.BlobEndpoint)
	if err != nil {
		return nil, err
	}

	accessKey, err := readKeyFile("access", cfg.BlobAccessKeyFile)
	if err != nil {
		return nil, err
	}
	secretKey, err := readKeyFile("secret", cfg.BlobSecretKeyFile)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.BlobRegion),
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	prefix := strings.Trim(strings.TrimSpace(cfg.BlobPrefix), "/")
	if prefix == "" {
		prefix = config.DefaultOAuthPrefix
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) Load(ctx context.Context, provider string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(provider), minio.GetObjectOptions{})
	if err != nil {
		return nil, notFound(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, notFound(err)
	}
	return data, nil
}

func (s *S3Store) Save(ctx context.Context, provider string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(provider), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"schema-version": strconv.Itoa(SchemaVersion)},
	})
	return notFound(err)
}

func (s *S3Store) objectKey(provider string) string {
	return path.Join(s.prefix, provider+".json")
}

// notFound folds missing bucket or key errors into ErrBlobNotFound.
func notFound(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrBlobNotFound
	}
	return err
}

// splitEndpoint accepts "host:port" or a URL. Bare hosts use TLS.
func splitEndpoint(raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("blob endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse blob endpoint: %w", err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false, fmt.Errorf("invalid blob endpoint %q", raw)
	}
	return u.Host, u.Scheme == "https", nil
}

func readKeyFile(kind, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("blob %s key file is required", kind)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read blob %s key: %w", kind, err)
	}
	return strings.TrimSpace(string(data)), nil
}
