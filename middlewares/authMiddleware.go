package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/macantine_backend/utils"
)

// AuthMiddleware accepts "Authorization: Bearer <jwt>" and stores the user id claim.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			abortForbidden(c)
			return
		}
		userId, err := utils.JwtUserId(strings.TrimSpace(auth[len(bearer):]))
		if err != nil {
			abortForbidden(c)
			return
		}

		ctx := utils.SetUserIdInContext(c.Request.Context(), userId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireUser rejects anonymous calls. The user itself is loaded by the models.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if userId, ok := utils.GetUserIdFromContext(ctx); ok && userId > 0 {
			c.Next()
			return
		}
		if username, ok := utils.GetUsernameFromContext(ctx); ok && username != "" {
			c.Next()
			return
		}
		abortForbidden(c)
	}
}

func abortForbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": (&utils.AuthorizationError{}).Error()})
}
