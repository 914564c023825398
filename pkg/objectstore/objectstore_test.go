package objectstore

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/pkg/storage"
)

func TestBuildKey(t *testing.T) {
	now := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	key := BuildKey("/resources/", "Week 1 Notes.PDF", now)
	assert.True(t, strings.HasPrefix(key, "resources/2024/03/"))
	assert.True(t, strings.HasSuffix(key, ".pdf"))

	other := BuildKey("resources", "Week 1 Notes.PDF", now)
	assert.NotEqual(t, key, other)
}

func TestLocalStorePutOpenDelete(t *testing.T) {
	fs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	store := NewLocalStore(fs)
	assert.Equal(t, ProviderLocal, store.Provider())

	obj, err := store.Put(context.Background(), "resources/a.txt", strings.NewReader("data"), 4, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "resources/a.txt", obj.Key)
	assert.EqualValues(t, 4, obj.Size)
	assert.Empty(t, obj.URL)

	f, err := store.Open(obj.Key)
	require.NoError(t, err)
	body, _ := io.ReadAll(f)
	require.NoError(t, f.Close())
	assert.Equal(t, "data", string(body))

	require.NoError(t, store.Delete(context.Background(), obj.Key))
}

func TestLocalStoreHonoursCancelledContext(t *testing.T) {
	fs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewLocalStore(fs).Put(ctx, "a.txt", strings.NewReader("x"), 1, "text/plain")
	assert.Error(t, err)
}
