package middleware

import (
	"github.com/gin-gonic/gin"

	appErrors "github.com/branchdesk/branchdesk/pkg/errors"
	"github.com/branchdesk/branchdesk/pkg/metrics"
	"github.com/branchdesk/branchdesk/pkg/response"
)

// RequireAnyPermission allows the request through when the session snapshot
// grants at least one of the given permission keys. The check reads only the
// materialized snapshot; it never recomputes from role or override rows, so
// what the session was issued (or last refreshed) with is exactly what it
// can do. Root accounts always pass.
func RequireAnyPermission(keys ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, ok := CurrentSnapshot(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if snapshot.IsRoot || snapshot.HasAny(keys...) {
			for _, key := range keys {
				metrics.PermissionChecks.WithLabelValues(key, "allowed").Inc()
			}
			c.Next()
			return
		}

		for _, key := range keys {
			metrics.PermissionChecks.WithLabelValues(key, "denied").Inc()
		}
		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
