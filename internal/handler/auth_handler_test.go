package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

// fakeAuthService overrides the calls a test needs; the embedded interface
// panics on anything else.
type fakeAuthService struct {
	authService
	loginResp   *models.LoginResponse
	loginErr    error
	lastLogin   models.LoginRequest
	lastMeta    models.RequestMeta
	lastVerify  models.VerifyEmailRequest
	verifyErr   error
	logoutToken string
	rejected    string
}

func (f *fakeAuthService) Login(_ context.Context, req models.LoginRequest, meta models.RequestMeta) (*models.LoginResponse, error) {
	f.lastLogin = req
	f.lastMeta = meta
	return f.loginResp, f.loginErr
}

func (f *fakeAuthService) VerifyEmail(_ context.Context, req models.VerifyEmailRequest) error {
	f.lastVerify = req
	return f.verifyErr
}

func (f *fakeAuthService) Logout(_ context.Context, req models.LogoutRequest, _ models.RequestMeta) error {
	f.logoutToken = req.RefreshToken
	return nil
}

func (f *fakeAuthService) RejectTeacher(_ context.Context, actorID, teacherID string, _ models.RequestMeta) error {
	f.rejected = actorID + ":" + teacherID
	return nil
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAuthHandlerLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeAuthService{loginResp: &models.LoginResponse{AccessToken: "access", RefreshToken: "refresh"}}
	handler := NewAuthHandler(srv)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = jsonRequest(http.MethodPost, "/auth/login", `{"email":"a@b.io","password":"secret1"}`)
	c.Request.Header.Set("User-Agent", "test-agent")

	handler.Login(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@b.io", srv.lastLogin.Email)
	assert.Equal(t, "test-agent", srv.lastMeta.UserAgent)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, "access", envelope.Data["access_token"])
}

func TestAuthHandlerLoginMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&fakeAuthService{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = jsonRequest(http.MethodPost, "/auth/login", `{"email":`)

	handler.Login(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec).Error["code"])
}

func TestAuthHandlerLoginForwardsServiceStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&fakeAuthService{loginErr: appErrors.ErrPendingApproval})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = jsonRequest(http.MethodPost, "/auth/login", `{"email":"t@b.io","password":"secret1"}`)

	handler.Login(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "PENDING_APPROVAL", decodeEnvelope(t, rec).Error["code"])
}

func TestAuthHandlerVerifyEmailReadsQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeAuthService{}
	handler := NewAuthHandler(srv)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/auth/verify-email?email=a%40b.io&token=abc", nil)

	handler.VerifyEmail(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.VerifyEmailRequest{Email: "a@b.io", Token: "abc"}, srv.lastVerify)
}

func TestAuthHandlerLogoutWithoutBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeAuthService{logoutToken: "unchanged"}
	handler := NewAuthHandler(srv)

	router := gin.New()
	router.POST("/auth/logout", handler.Logout)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "", srv.logoutToken)
}

func TestAuthHandlerRejectTeacherUsesCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeAuthService{}
	handler := NewAuthHandler(srv)

	router := gin.New()
	router.DELETE("/auth/reject-teacher/:id", func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
		handler.RejectTeacher(c)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/auth/reject-teacher/t-9", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "admin-1:t-9", srv.rejected)
}
