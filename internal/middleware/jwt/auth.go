package jwt

import (
	"strings"

	"DeskPilot/pkg/back"
	"DeskPilot/pkg/util/myjwt"
	"DeskPilot/pkg/xerr"

	"github.com/gin-gonic/gin"
)

// 写入 gin.Context 的键
const (
	CtxUserID   = "user_id"
	CtxUsername = "username"
	// HeaderUserID 仅在未配置 jwt 密钥时生效
	HeaderUserID = "X-User-Id"
)

func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if myjwt.Disabled() {
			userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
			if userID == "" {
				back.Abort(c, xerr.ErrUnauthorized.WithMessage("missing "+HeaderUserID+" header"))
				return
			}
			c.Set(CtxUserID, userID)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			back.Abort(c, xerr.ErrUnauthorized.WithMessage("missing or invalid authorization header"))
			return
		}
		claims, err := myjwt.ParseToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			back.Abort(c, xerr.ErrUnauthorized.WithMessage("invalid token"))
			return
		}
		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUsername, claims.Username)
		c.Next()
	}
}
