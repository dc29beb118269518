package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGinLoggerRedactsToken(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinLogger(zap.New(core)))
	router.GET("/logs", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/logs?token=s3cret&tail=10", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		query := entries[0].ContextMap()["query"]
		assert.NotContains(t, query, "s3cret")
		assert.Contains(t, query, "tail=10")
	}
}

func TestRedactQuery(t *testing.T) {
	assert.Equal(t, "", redactQuery(""))
	assert.Equal(t, "page=2&q=ada", redactQuery("page=2&q=ada"))
	assert.Equal(t, "token=REDACTED", redactQuery("token=abc"))
	assert.Equal(t, "[unparseable]", redactQuery("token=%zz"))
}
