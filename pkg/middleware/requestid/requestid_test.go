package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(seen *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) {
		*seen = Value(c)
		c.Status(http.StatusOK)
	})
	return r
}

func TestMiddlewareKeepsInboundID(t *testing.T) {
	var seen string
	r := newRouter(&seen)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(headerKey, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(headerKey))
}

func TestMiddlewareReplacesMalformedID(t *testing.T) {
	for _, inbound := range []string{"", "has space", strings.Repeat("x", 65)} {
		var seen string
		r := newRouter(&seen)

		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if inbound != "" {
			req.Header.Set(headerKey, inbound)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		_, err := uuid.Parse(seen)
		require.NoError(t, err, "inbound %q", inbound)
		assert.Equal(t, seen, w.Header().Get(headerKey))
	}
}
