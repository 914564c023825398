package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type fakeResourceService struct {
	resourceService
	uploadReq   service.UploadResourceRequest
	uploadBytes []byte
	uploadName  string
	download    *dto.ResourceDownload
	filePath    string
	fileErr     error
}

func (f *fakeResourceService) Upload(_ context.Context, _ models.Actor, req service.UploadResourceRequest, upload service.ResourceUpload) (*models.Resource, error) {
	f.uploadReq = req
	f.uploadName = upload.Filename
	data, err := io.ReadAll(upload.Content)
	if err != nil {
		return nil, err
	}
	f.uploadBytes = data
	return &models.Resource{ID: "r1", Name: req.Name, Type: req.Type}, nil
}

func (f *fakeResourceService) Download(context.Context, models.Actor, string) (*dto.ResourceDownload, error) {
	return f.download, nil
}

func (f *fakeResourceService) OpenFile(_ context.Context, token string) (*service.ResourceFile, error) {
	if f.fileErr != nil {
		return nil, f.fileErr
	}
	file, err := os.Open(f.filePath)
	if err != nil {
		return nil, err
	}
	info, _ := file.Stat()
	return &service.ResourceFile{File: file, Filename: "notes.txt", MimeType: "text/plain", SizeBytes: info.Size(), ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	req := httptest.NewRequest(http.MethodPost, "/resources/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestResourceHandlerUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeResourceService{}
	handler := NewResourceHandler(srv, 1<<20)
	teacher := &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}

	req := multipartUpload(t, map[string]string{"name": "Week 1", "type": "document", "class_code": "ab1"}, "week1.txt", []byte("hello"))
	rec := serveAs(teacher, http.MethodPost, "/resources/upload", handler.Upload, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Week 1", srv.uploadReq.Name)
	assert.Equal(t, models.ResourceTypeDocument, srv.uploadReq.Type)
	assert.Equal(t, "ab1", srv.uploadReq.ClassCode)
	assert.Equal(t, "week1.txt", srv.uploadName)
	assert.Equal(t, []byte("hello"), srv.uploadBytes)
}

func TestResourceHandlerUploadRequiresFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewResourceHandler(&fakeResourceService{}, 1<<20)
	teacher := &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}

	req := multipartUpload(t, map[string]string{"name": "Week 1", "type": "document"}, "", nil)
	rec := serveAs(teacher, http.MethodPost, "/resources/upload", handler.Upload, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResourceHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeResourceService{download: &dto.ResourceDownload{URL: "https://cdn.example.com/r1.pdf"}}
	handler := NewResourceHandler(srv, 0)
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}

	rec := serveAs(student, http.MethodGet, "/resources/:id/download", handler.Download,
		httptest.NewRequest(http.MethodGet, "/resources/r1/download", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cdn.example.com/r1.pdf", rec.Header().Get("Location"))

	rec = serveAs(student, http.MethodGet, "/resources/:id/download", handler.Download,
		httptest.NewRequest(http.MethodGet, "/resources/r1/download?redirect=false", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://cdn.example.com/r1.pdf", decodeEnvelope(t, rec).Data["url"])
}

func TestResourceHandlerServeFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("lesson notes"), 0o600))
	handler := NewResourceHandler(&fakeResourceService{filePath: path}, 0)

	rec := serveAs(nil, http.MethodGet, "/resources/files/:token", handler.ServeFile,
		httptest.NewRequest(http.MethodGet, "/resources/files/tok", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lesson notes", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="notes.txt"`)
}

func TestResourceHandlerServeFileRejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewResourceHandler(&fakeResourceService{fileErr: appErrors.ErrForbidden}, 0)

	rec := serveAs(nil, http.MethodGet, "/resources/files/:token", handler.ServeFile,
		httptest.NewRequest(http.MethodGet, "/resources/files/tok", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
