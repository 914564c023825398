package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/objectstore"
	"github.com/noah-isme/lms-api/pkg/storage"
)

const samplePDF = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n"

type fakeResourceRepo struct {
	items map[string]*models.Resource
}

func newFakeResourceRepo() *fakeResourceRepo {
	return &fakeResourceRepo{items: map[string]*models.Resource{}}
}

func (f *fakeResourceRepo) FindByID(ctx context.Context, id string) (*models.Resource, error) {
	r, ok := f.items[id]
	if !ok || !r.IsActive {
		return nil, sql.ErrNoRows
	}
	copied := *r
	return &copied, nil
}

func (f *fakeResourceRepo) List(ctx context.Context, filter models.ResourceFilter) ([]models.Resource, error) {
	var out []models.Resource
	for _, r := range f.items {
		if !r.IsActive {
			continue
		}
		if filter.Type != nil && r.Type != *filter.Type {
			continue
		}
		if filter.ClassCode != nil && (r.ClassCode == nil || !strings.EqualFold(*r.ClassCode, *filter.ClassCode)) {
			continue
		}
		if filter.StudentClassCode != nil && !r.VisibleToClass(*filter.StudentClassCode) {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeResourceRepo) Create(ctx context.Context, resource *models.Resource) error {
	copied := *resource
	f.items[resource.ID] = &copied
	return nil
}

func (f *fakeResourceRepo) Update(ctx context.Context, resource *models.Resource) error {
	copied := *resource
	f.items[resource.ID] = &copied
	return nil
}

func (f *fakeResourceRepo) SoftDelete(ctx context.Context, id string) error {
	r, ok := f.items[id]
	if !ok || !r.IsActive {
		return sql.ErrNoRows
	}
	r.IsActive = false
	return nil
}

type failingStore struct {
	deleted []string
}

func (f *failingStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*objectstore.Object, error) {
	return nil, errors.New("bucket unreachable")
}

func (f *failingStore) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return errors.New("bucket unreachable")
}

func (f *failingStore) Provider() objectstore.Provider { return objectstore.ProviderOSS }

type resourceFixture struct {
	svc   *ResourceService
	repo  *fakeResourceRepo
	store *objectstore.LocalStore
}

func newResourceFixture(t *testing.T, maxBytes int64) resourceFixture {
	t.Helper()
	fs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	store := objectstore.NewLocalStore(fs)
	repo := newFakeResourceRepo()
	signer := storage.NewSignedURLSigner("download-secret", time.Minute)
	svc := NewResourceService(repo, courseFixtureUsers(), store, store, signer, nil, zap.NewNop(), ResourceServiceConfig{MaxUploadBytes: maxBytes})
	return resourceFixture{svc: svc, repo: repo, store: store}
}

func TestResourceCreateNormalizesClassCode(t *testing.T) {
	fx := newResourceFixture(t, 0)
	ctx := context.Background()

	res, err := fx.svc.Create(ctx, teacherActor, CreateResourceRequest{Name: " Syllabus ", Type: models.ResourceTypeLink, URL: "https://example.com/syllabus", ClassCode: "ma1"})
	require.NoError(t, err)
	assert.Equal(t, "Syllabus", res.Name)
	require.NotNil(t, res.ClassCode)
	assert.Equal(t, "MA1", *res.ClassCode)
	assert.Equal(t, "t1", res.UploadedBy)

	_, err = fx.svc.Create(ctx, teacherActor, CreateResourceRequest{Name: "Bad", Type: models.ResourceTypeLink, URL: "https://example.com", ClassCode: "MATH"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = fx.svc.Create(ctx, models.Actor{ID: "s1", Role: models.RoleStudent}, CreateResourceRequest{Name: "Nope", Type: models.ResourceTypeLink, URL: "https://example.com"})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestResourceUploadAndSignedDownload(t *testing.T) {
	fx := newResourceFixture(t, 0)
	ctx := context.Background()

	res, err := fx.svc.Upload(ctx, teacherActor, UploadResourceRequest{Name: "Week 1 Notes", Type: models.ResourceTypeDocument}, ResourceUpload{
		Filename: "notes.pdf",
		Size:     int64(len(samplePDF)),
		Content:  strings.NewReader(samplePDF),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", res.MimeType)
	assert.Equal(t, string(objectstore.ProviderLocal), res.StorageProvider)
	require.NotNil(t, res.StorageKey)
	assert.True(t, strings.HasPrefix(*res.StorageKey, "resources/"))
	assert.EqualValues(t, len(samplePDF), res.FileSize)

	student := models.Actor{ID: "s1", Role: models.RoleStudent}
	link, err := fx.svc.Download(ctx, student, res.ID)
	require.NoError(t, err)
	require.NotNil(t, link.ExpiresAt)
	assert.True(t, strings.HasPrefix(link.URL, "/api/resources/files/"))

	token := strings.TrimPrefix(link.URL, "/api/resources/files/")
	file, err := fx.svc.OpenFile(ctx, token)
	require.NoError(t, err)
	body, err := io.ReadAll(file.File)
	require.NoError(t, err)
	require.NoError(t, file.File.Close())
	assert.Equal(t, samplePDF, string(body))
	assert.Equal(t, "Week_1_Notes.pdf", file.Filename)
	assert.EqualValues(t, len(samplePDF), file.SizeBytes)

	_, err = fx.svc.OpenFile(ctx, token+"x")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestResourceUploadRejections(t *testing.T) {
	fx := newResourceFixture(t, 64)
	ctx := context.Background()

	_, err := fx.svc.Upload(ctx, teacherActor, UploadResourceRequest{Name: "Pic", Type: models.ResourceTypeImage}, ResourceUpload{
		Filename: "notes.pdf",
		Size:     int64(len(samplePDF[:40])),
		Content:  strings.NewReader(samplePDF[:40]),
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	big := strings.Repeat("a", 100)
	_, err = fx.svc.Upload(ctx, teacherActor, UploadResourceRequest{Name: "Big", Type: models.ResourceTypeDocument}, ResourceUpload{
		Filename: "big.txt",
		Size:     int64(len(big)),
		Content:  strings.NewReader(big),
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrPayloadTooLarge))

	_, err = fx.svc.Upload(ctx, teacherActor, UploadResourceRequest{Name: "Empty", Type: models.ResourceTypeDocument}, ResourceUpload{Filename: "a.txt"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, fx.repo.items)
}

func TestResourceUploadStorageFailure(t *testing.T) {
	repo := newFakeResourceRepo()
	svc := NewResourceService(repo, courseFixtureUsers(), &failingStore{}, nil, nil, nil, zap.NewNop(), ResourceServiceConfig{})
	text := "plain text handout"
	_, err := svc.Upload(context.Background(), teacherActor, UploadResourceRequest{Name: "Handout", Type: models.ResourceTypeDocument}, ResourceUpload{
		Filename: "handout.txt",
		Size:     int64(len(text)),
		Content:  strings.NewReader(text),
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrDependency))
	assert.Empty(t, repo.items)
}

func TestResourceStudentVisibility(t *testing.T) {
	fx := newResourceFixture(t, 0)
	ctx := context.Background()

	open, err := fx.svc.Create(ctx, teacherActor, CreateResourceRequest{Name: "Open", Type: models.ResourceTypeLink, URL: "https://example.com/open"})
	require.NoError(t, err)
	maths, err := fx.svc.Create(ctx, teacherActor, CreateResourceRequest{Name: "Maths", Type: models.ResourceTypeLink, URL: "https://example.com/ma", ClassCode: "MA1"})
	require.NoError(t, err)
	biology, err := fx.svc.Create(ctx, teacherActor, CreateResourceRequest{Name: "Biology", Type: models.ResourceTypeVideo, URL: "https://example.com/bi", ClassCode: "BI1"})
	require.NoError(t, err)

	student := models.Actor{ID: "s1", Role: models.RoleStudent}
	list, err := fx.svc.List(ctx, student, nil, "BI1")
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{open.ID, maths.ID}, ids)

	_, err = fx.svc.Get(ctx, student, biology.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	noCode := models.Actor{ID: "s3", Role: models.RoleStudent}
	list, err = fx.svc.List(ctx, noCode, nil, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, open.ID, list[0].ID)

	videos := models.ResourceTypeVideo
	list, err = fx.svc.List(ctx, adminActor, &videos, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, biology.ID, list[0].ID)

	list, err = fx.svc.List(ctx, teacherActor, nil, "ma1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, maths.ID, list[0].ID)

	link, err := fx.svc.Download(ctx, student, open.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/open", link.URL)
	assert.Nil(t, link.ExpiresAt)
}

func TestResourceUpdateAndDeleteOwnership(t *testing.T) {
	fx := newResourceFixture(t, 0)
	ctx := context.Background()

	res, err := fx.svc.Upload(ctx, teacherActor, UploadResourceRequest{Name: "Handout", Type: models.ResourceTypeDocument}, ResourceUpload{
		Filename: "handout.pdf",
		Size:     int64(len(samplePDF)),
		Content:  strings.NewReader(samplePDF),
	})
	require.NoError(t, err)

	other := models.Actor{ID: "t2", Role: models.RoleTeacher}
	_, err = fx.svc.Update(ctx, other, res.ID, UpdateResourceRequest{Name: strPtr("Mine now")})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = fx.svc.Update(ctx, teacherActor, res.ID, UpdateResourceRequest{URL: strPtr("https://example.com/x")})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	updated, err := fx.svc.Update(ctx, adminActor, res.ID, UpdateResourceRequest{Name: strPtr("Handout v2"), ClassCode: strPtr("bi1")})
	require.NoError(t, err)
	assert.Equal(t, "Handout v2", updated.Name)
	assert.Equal(t, "BI1", *updated.ClassCode)

	assert.True(t, appErrors.Is(fx.svc.Delete(ctx, other, res.ID), appErrors.ErrForbidden))
	require.NoError(t, fx.svc.Delete(ctx, teacherActor, res.ID))
	assert.False(t, fx.repo.items[res.ID].IsActive)

	_, err = fx.store.Open(*res.StorageKey)
	assert.Error(t, err)

	_, err = fx.svc.Get(ctx, teacherActor, res.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestResourceDeleteSwallowsStoreErrors(t *testing.T) {
	repo := newFakeResourceRepo()
	store := &failingStore{}
	key := "resources/2024/03/a.pdf"
	repo.items["r1"] = &models.Resource{ID: "r1", UploadedBy: "t1", StorageKey: &key, StorageProvider: "oss", IsActive: true}
	svc := NewResourceService(repo, courseFixtureUsers(), store, nil, nil, nil, zap.NewNop(), ResourceServiceConfig{})

	require.NoError(t, svc.Delete(context.Background(), teacherActor, "r1"))
	assert.Equal(t, []string{key}, store.deleted)
	assert.False(t, repo.items["r1"].IsActive)
}

// concurrentDeleteRepo reports the row as gone by the time SoftDelete runs.
type concurrentDeleteRepo struct {
	*fakeResourceRepo
}

func (concurrentDeleteRepo) SoftDelete(context.Context, string) error {
	return sql.ErrNoRows
}

func TestResourceNotFoundErrorsAreCopies(t *testing.T) {
	repo := concurrentDeleteRepo{newFakeResourceRepo()}
	repo.items["r1"] = &models.Resource{ID: "r1", UploadedBy: "t1", IsActive: true}
	svc := NewResourceService(repo, courseFixtureUsers(), &failingStore{}, nil, nil, nil, zap.NewNop(), ResourceServiceConfig{})
	ctx := context.Background()

	err := svc.Delete(ctx, teacherActor, "r1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.NotSame(t, appErrors.ErrNotFound, err)

	_, err = svc.Get(ctx, teacherActor, "missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.NotSame(t, appErrors.ErrNotFound, err)
}
