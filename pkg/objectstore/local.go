package objectstore

import (
	"context"
	"io"
	"os"

	"github.com/noah-isme/lms-api/pkg/storage"
)

// LocalStore keeps objects on disk. Objects get no public URL; callers hand
// out signed download links instead.
type LocalStore struct {
	fs *storage.LocalStorage
}

// NewLocalStore wraps a LocalStorage.
func NewLocalStore(fs *storage.LocalStorage) *LocalStore {
	return &LocalStore{fs: fs}
}

// Provider implements Store.
func (s *LocalStore) Provider() Provider { return ProviderLocal }

// Put writes the reader to disk.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, written, err := s.fs.SaveStream(key, r)
	if err != nil {
		return nil, err
	}
	return &Object{Key: name, Size: written, Provider: ProviderLocal}, nil
}

// Delete removes the file if present.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	return s.fs.Delete(key)
}

// Open streams a stored object.
func (s *LocalStore) Open(key string) (*os.File, error) {
	return s.fs.Open(key)
}
