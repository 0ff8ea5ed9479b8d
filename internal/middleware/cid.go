package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/thereayou/concord/internal/cid"
)

// CorrelationID tags every request with a correlation id, keeping one sent
// by the caller, and echoes it in the response header.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(cid.HeaderName)
		if id == "" {
			id = cid.New()
		}
		c.Header(cid.HeaderName, id)
		c.Request = c.Request.WithContext(cid.WithCID(c.Request.Context(), id))
		c.Next()
	}
}
