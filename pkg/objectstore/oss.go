package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSConfig identifies the bucket objects are written to.
type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	PublicBaseURL   string
	Prefix          string
}

// OSSStore keeps objects in an Aliyun OSS bucket with public-read URLs.
type OSSStore struct {
	bucket  *oss.Bucket
	baseURL string
	prefix  string
}

// NewOSSStore connects to the configured bucket.
func NewOSSStore(cfg OSSConfig) (*OSSStore, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss.New: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("oss bucket %s: %w", cfg.Bucket, err)
	}
	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		host := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
		baseURL = fmt.Sprintf("https://%s.%s", cfg.Bucket, host)
	}
	return &OSSStore{bucket: bucket, baseURL: strings.TrimRight(baseURL, "/"), prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// Provider implements Store.
func (s *OSSStore) Provider() Provider { return ProviderOSS }

// Put uploads the reader under key and returns its public URL.
func (s *OSSStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error) {
	fullKey := s.fullKey(key)
	opts := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ObjectACL(oss.ACLPublicRead),
	}
	if err := s.bucket.PutObject(fullKey, r, opts...); err != nil {
		return nil, fmt.Errorf("oss put %s: %w", fullKey, err)
	}
	return &Object{Key: fullKey, URL: s.baseURL + "/" + fullKey, Size: size, Provider: ProviderOSS}, nil
}

// Delete removes the object. Missing objects are not an error in OSS.
func (s *OSSStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("oss delete %s: %w", key, err)
	}
	return nil
}

func (s *OSSStore) fullKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" || strings.HasPrefix(key, s.prefix+"/") {
		return key
	}
	return s.prefix + "/" + key
}
