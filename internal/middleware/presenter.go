package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/pollstream/backend/pkg/response"
)

// Context keys for presenter identity.
const (
	ContextPresenterID   = "presenter_id"
	ContextPresenterName = "presenter_name"
)

// Presenter extracts the opaque presenter identity set by the trusted
// gateway. Authentication itself lives upstream; the core only needs an
// owner reference for session writes.
func Presenter() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Presenter-Id")
		if id == "" {
			response.BadRequest(c, "missing X-Presenter-Id header")
			c.Abort()
			return
		}
		c.Set(ContextPresenterID, id)
		c.Set(ContextPresenterName, c.GetHeader("X-Presenter-Name"))
		c.Next()
	}
}
