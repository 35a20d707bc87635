package middleware

import (
	"github.com/gin-gonic/gin"

	"talkingrock/internal/pkg/ctxutil"
	"talkingrock/internal/pkg/id"
)

// RequestID assigns each request a transport-level id, echoed in the
// X-Request-ID response header and attached to the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || !id.IsValid(requestID) {
			requestID = id.New()
		}

		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(ctxutil.WithRequestID(c.Request.Context(), requestID))

		c.Next()
	}
}
