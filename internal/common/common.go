package common

import (
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

type response struct {
	OK      bool   `json:"ok"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func Ok(c *gin.Context, status int, data any) {
	c.JSON(status, response{OK: true, Data: data})
}

func Fail(c *gin.Context, status, code int, message string) {
	c.JSON(status, response{OK: false, Code: code, Message: message})
}

// NewULID returns a lexicographically sortable unique id.
func NewULID() string {
	return ulid.Make().String()
}
