package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryhive/queryhive/pkg/models"
	"github.com/queryhive/queryhive/pkg/services"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.Default()
	return &Server{
		deps:   Deps{JWTSecret: "test-secret", Logger: logger},
		logger: logger,
	}
}

func TestRequireAuth(t *testing.T) {
	s := newTestServer(t)

	r := gin.New()
	r.GET("/whoami", s.requireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, currentUserID(c))
	})

	token, err := s.issueToken("user-1")
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid token", "Bearer " + token, http.StatusOK, "user-1"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized, ""},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.wantStatus, w.Code)
			if tc.wantBody != "" {
				assert.Equal(t, tc.wantBody, w.Body.String())
			}
		})
	}
}

func TestRequireAuth_RejectsExpiredToken(t *testing.T) {
	s := newTestServer(t)

	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(s.deps.JWTSecret))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/whoami", s.requireAuth(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_RejectsWrongSecret(t *testing.T) {
	s := newTestServer(t)

	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("other-secret"))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/whoami", s.requireAuth(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRespondError_StatusMapping(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		err  error
		want int
	}{
		{services.ErrInvalid, http.StatusBadRequest},
		{services.ErrNotFound, http.StatusNotFound},
		{services.ErrForbidden, http.StatusForbidden},
		{services.ErrConflict, http.StatusConflict},
		{services.ErrNotCancellable, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			r := gin.New()
			r.GET("/fail", func(c *gin.Context) {
				s.respondError(c, tc.err)
			})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))

			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRespondError_MasksInternalDetail(t *testing.T) {
	s := newTestServer(t)

	r := gin.New()
	r.GET("/fail", func(c *gin.Context) {
		s.respondError(c, errors.New("pq: connection refused to 10.0.0.5"))
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}

func TestPageRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name  string
		query string
		want  models.PageRequest
	}{
		{"defaults", "", models.PageRequest{Page: 1, PerPage: 20}},
		{"explicit", "page=3&per_page=50", models.PageRequest{Page: 3, PerPage: 50}},
		{"clamped", "page=0&per_page=9999", models.PageRequest{Page: 1, PerPage: 100}},
		{"garbage", "page=x&per_page=y", models.PageRequest{Page: 1, PerPage: 20}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)

			assert.Equal(t, tc.want, pageRequest(c))
		})
	}
}

func TestSanitizeConnection(t *testing.T) {
	conn := &models.Connection{
		ID:   "c1",
		Kind: models.KindPostgres,
		Payload: models.ConnectionPayload{
			Host:     "db.internal",
			Password: "hunter2",
		},
	}

	out := sanitizeConnection(conn)

	assert.Equal(t, "***", out.Payload.Password)
	assert.Equal(t, "hunter2", conn.Payload.Password, "original must not be mutated")

	empty := sanitizeConnection(&models.Connection{ID: "c2", Kind: models.KindSQLite})
	assert.Empty(t, empty.Payload.Password)
}
