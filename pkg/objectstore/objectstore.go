// Package objectstore stores uploaded binaries either in Aliyun OSS or on the
// local filesystem.
package objectstore

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider names where an object lives.
type Provider string

const (
	ProviderOSS   Provider = "oss"
	ProviderLocal Provider = "local"
)

// Object describes a stored binary.
type Object struct {
	Key      string
	URL      string
	Size     int64
	Provider Provider
}

// Store uploads and removes binaries.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error)
	Delete(ctx context.Context, key string) error
	Provider() Provider
}

// BuildKey returns a collision free object key under dir that keeps the
// original file extension.
func BuildKey(dir, filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 10 {
		ext = ""
	}
	return path.Join(strings.Trim(dir, "/"), now.UTC().Format("2006/01"), uuid.NewString()+ext)
}
