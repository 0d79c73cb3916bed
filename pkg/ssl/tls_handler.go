package ssl

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
)

// Secure 安全响应头；enableTLS 时把 http 请求重定向到 https
func Secure(enableTLS bool, host string, port int) gin.HandlerFunc {
	mw := secure.New(secure.Options{
		SSLRedirect:        enableTLS,
		SSLHost:            host + ":" + strconv.Itoa(port),
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	})
	return func(c *gin.Context) {
		// Process 出错时已经写好了响应（重定向），直接中止
		if err := mw.Process(c.Writer, c.Request); err != nil {
			c.Abort()
			return
		}
		c.Next()
	}
}
