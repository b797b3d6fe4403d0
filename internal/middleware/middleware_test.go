// internal/middleware/middleware_test.go
package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/database"
	"github.com/javajoker/license-backend/internal/i18n"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	require.NoError(t, i18n.Initialize("en", ""))
	utils.SetJWTSecret("middleware-test-secret")

	r := gin.New()
	r.Use(I18nMiddleware())
	r.GET("/me", AuthRequired(), func(c *gin.Context) {
		userID, _ := utils.GetUserIDFromContext(c)
		role, _ := utils.GetRoleFromContext(c)
		c.String(http.StatusOK, userID+":"+role)
	})
	r.GET("/admin", AuthRequired(), AdminRequired(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	userToken, err := utils.GenerateJWT("u-1", "", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1:user", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	adminToken, err := utils.GenerateJWT("root", string(models.UserRoleAdmin), time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "bearer "+adminToken)
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)

	expired, err := utils.GenerateJWT("u-1", "", -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestParseLanguage(t *testing.T) {
	require.NoError(t, i18n.Initialize("en", ""))

	tests := []struct {
		header string
		want   string
	}{
		{"", "en"},
		{"en-US,en;q=0.9", "en"},
		{"zh-TW,zh;q=0.9,en;q=0.8", "zh_TW"},
		{"zh-Hant", "zh_TW"},
		{"fr-FR", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLanguage(tt.header))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	require.NoError(t, i18n.Initialize("en", ""))

	rl := NewRateLimiter(rate.Limit(0.001), 1)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "198.51.100.1:1000"
	assert.Equal(t, http.StatusOK, serve(r, first).Code)

	again := httptest.NewRequest(http.MethodGet, "/", nil)
	again.RemoteAddr = "198.51.100.1:1001"
	w := serve(r, again)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "198.51.100.2:1000"
	assert.Equal(t, http.StatusOK, serve(r, other).Code)

	rl.cleanupVisitors(time.Now().Add(time.Hour))
	rl.mtx.Lock()
	assert.Empty(t, rl.visitors)
	rl.mtx.Unlock()
}

func TestRateLimiterRunStopsWithContext(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRequestTimeout(t *testing.T) {
	r := gin.New()
	r.Use(RequestTimeout(time.Minute))
	r.GET("/", func(c *gin.Context) {
		deadline, ok := c.Request.Context().Deadline()
		if !ok || time.Until(deadline) > time.Minute {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)

	r = gin.New()
	r.Use(RequestTimeout(0))
	r.GET("/", func(c *gin.Context) {
		if _, ok := c.Request.Context().Deadline(); ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func openAuditDB(t *testing.T) *gorm.DB {
	logger := quietLogger()
	db, err := database.Initialize(config.DatabaseConfig{
		Dialect:    "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "audit.db"),
		LogLevel:   "silent",
	}, logger)
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db, logger))
	t.Cleanup(func() { database.Close(db, logger) })
	return db
}

func TestAuditLogMiddleware(t *testing.T) {
	db := openAuditDB(t)
	licenseID := uuid.New()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "alice")
		c.Next()
	})
	r.Use(AuditLogMiddleware(db, quietLogger()))
	r.POST("/v1/licenses/:id/transfer", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	})
	r.GET("/v1/licenses/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	payload := `{"key":"ABCD-EFGH-JKLM-NPQR","to_owner_id":"bob"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/licenses/"+licenseID.String()+"/transfer", strings.NewReader(payload))
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.String(), "handler still sees the original body")

	serve(r, httptest.NewRequest(http.MethodGet, "/v1/licenses/"+licenseID.String(), nil))

	var logs []models.AuditLog
	require.Eventually(t, func() bool {
		logs = nil
		db.Find(&logs)
		return len(logs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	entry := logs[0]
	assert.Equal(t, "alice", entry.UserID)
	assert.Equal(t, "POST /v1/licenses/:id/transfer", entry.Action)
	assert.Equal(t, "licenses", entry.ResourceType)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, licenseID, *entry.ResourceID)
	assert.Equal(t, http.StatusOK, entry.StatusCode)
	assert.Equal(t, "[redacted]", entry.NewValues["key"])
	assert.Equal(t, "bob", entry.NewValues["to_owner_id"])
}

func TestExtractResource(t *testing.T) {
	id := uuid.New().String()
	assert.Equal(t, "licenses", extractResourceType("/v1/licenses/"+id))
	assert.Equal(t, "notifications", extractResourceType("/v1/admin/notifications/"+id+"/read"))
	assert.Equal(t, "health", extractResourceType("/health"))
	assert.Equal(t, "unknown", extractResourceType("/"))
	assert.Equal(t, id, extractResourceID("/v1/admin/notifications/"+id+"/read"))
	assert.Empty(t, extractResourceID("/v1/licenses"))
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		id, _ := c.Get("request_id")
		c.String(http.StatusOK, id.(string))
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get("X-Request-ID")
	assert.Len(t, generated, 24)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	w = serve(r, req)
	assert.Equal(t, "client-supplied", w.Header().Get("X-Request-ID"))
}
