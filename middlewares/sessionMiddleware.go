package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
)

// SessionMiddleware resolves the "token" header through Redis (Token:<token> -> username).
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists || username == "" {
			abortForbidden(c)
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
