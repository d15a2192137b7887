package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/sma-substitution-api/pkg/config"
)

func newObservedRouter(level zapcore.Level) (*gin.Engine, *observer.ObservedLogs) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(level)
	r := gin.New()
	r.Use(GinMiddleware(zap.New(core)))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.DELETE("/substitutions/:date/:period/:absentTeacherId", func(c *gin.Context) { c.Status(http.StatusConflict) })
	return r, logs
}

func TestGinMiddlewareLevelsAndRoute(t *testing.T) {
	r, logs := newObservedRouter(zapcore.InfoLevel)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, 0, logs.Len())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/substitutions/2024-03-11/3/t-1", nil))
	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/substitutions/:date/:period/:absentTeacherId", fields["route"])
	assert.Equal(t, "/substitutions/2024-03-11/3/t-1", fields["path"])
}

func TestNewHonoursConfiguredLevel(t *testing.T) {
	logr, err := New(&config.Config{Env: config.EnvDevelopment, Log: config.LogConfig{Level: "warn", Format: "console"}})
	require.NoError(t, err)
	assert.False(t, logr.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logr.Core().Enabled(zapcore.WarnLevel))

	logr, err = New(&config.Config{Env: config.EnvProduction, Log: config.LogConfig{Level: "loud"}})
	require.NoError(t, err)
	assert.True(t, logr.Core().Enabled(zapcore.InfoLevel))
}
