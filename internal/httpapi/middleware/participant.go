package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// ParticipantMiddleware 从请求头提取参与者身份并写入 gin.Context。
// 身份的签发与校验在外部认证服务里，这里只取结果：
// X-Participant-ID 必填，X-Display-Name 可选。
// 兼容 WebSocket：浏览器无法自定义 Header，允许从 query ?participant= 获取。
func ParticipantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("X-Participant-ID"))
		if raw == "" {
			raw = strings.TrimSpace(c.Query("participant"))
		}
		if raw == "" {
			c.AbortWithStatusJSON(401, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "X-Participant-ID header is missing",
			})
			return
		}
		pid, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "invalid participant id",
			})
			return
		}
		c.Set("participantId", pid)

		name := strings.TrimSpace(c.GetHeader("X-Display-Name"))
		if name == "" {
			name = strings.TrimSpace(c.Query("displayName"))
		}
		c.Set("displayName", name)

		c.Next()
	}
}
