package middleware

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"visa-letter-api/models"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func signToken(t *testing.T, secret, adminID string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		AdminID: adminID,
		Email:   "admin@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newAuthRouter(db *gorm.DB, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers := append([]gin.HandlerFunc{AuthMiddleware(db, testSecret)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		admin, _ := CurrentAdmin(c)
		c.JSON(http.StatusOK, gin.H{"id": admin.ID})
	})
	router.GET("/me", handlers...)
	return router
}

func get(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	db := newTestDB(t)
	admin := models.Admin{ID: uuid.New(), Email: "admin@example.com"}
	require.NoError(t, db.Create(&admin).Error)
	router := newAuthRouter(db)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"no bearer prefix", signToken(t, testSecret, admin.ID.String(), future), http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", admin.ID.String(), future), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, admin.ID.String(), time.Now().Add(-time.Minute)), http.StatusUnauthorized},
		{"malformed admin id", "Bearer " + signToken(t, testSecret, "nope", future), http.StatusUnauthorized},
		{"unknown admin", "Bearer " + signToken(t, testSecret, uuid.NewString(), future), http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, testSecret, admin.ID.String(), future), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(router, tt.header)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Body.String(), admin.ID.String())
			}
		})
	}
}

func TestRequireSuperAdmin(t *testing.T) {
	db := newTestDB(t)
	plain := models.Admin{ID: uuid.New(), Email: "plain@example.com"}
	root := models.Admin{ID: uuid.New(), Email: "root@example.com", SuperAdmin: true}
	require.NoError(t, db.Create(&plain).Error)
	require.NoError(t, db.Create(&root).Error)
	router := newAuthRouter(db, RequireSuperAdmin())
	future := time.Now().Add(time.Hour)

	assert.Equal(t, http.StatusForbidden, get(router, "Bearer "+signToken(t, testSecret, plain.ID.String(), future)).Code)
	assert.Equal(t, http.StatusOK, get(router, "Bearer "+signToken(t, testSecret, root.ID.String(), future)).Code)
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORSMiddleware("https://admin.example.com, https://ops.example.com"))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
