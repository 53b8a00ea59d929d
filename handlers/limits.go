package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LimitRequestBody caps the request body at maxBytes. Reads past the cap fail
// with *http.MaxBytesError, which the analyze handler reports as an input
// error.
func LimitRequestBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
