package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parlorhq/parlor/internal/common"
	"github.com/parlorhq/parlor/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID tags every request with an id, honoring one supplied by
// the caller.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = common.NewULID()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// Recovery converts panics into the JSON error envelope instead of
// gin's default plain-text response.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.L.Error("panic recovered", "path", c.Request.URL.Path, "panic", r)
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
