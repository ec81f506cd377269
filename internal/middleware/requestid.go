// requestid.go stamps every request with an X-Request-ID, reusing an inbound
// one when an upstream proxy already set it.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the identifier.
	RequestIDKey = "request_id"
)

// RequestID ensures every request carries a unique identifier, stored in the
// context and echoed in the response header so clients can correlate their
// request with server-side log entries. Register it early so all downstream
// logging includes the ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
