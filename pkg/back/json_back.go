package back

import (
	"net/http"

	"DeskPilot/pkg/xerr"

	"github.com/gin-gonic/gin"
)

// Response 统一响应；业务错误也返回 HTTP 200，以 Code 区分
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Result err 为 nil 时返回 data，否则按 xerr.From 转换
func Result(c *gin.Context, data interface{}, err error) {
	if err != nil {
		Fail(c, xerr.From(err))
		return
	}
	Success(c, data)
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: xerr.OK, Message: "Success", Data: data})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{Code: code, Message: message})
}

func Fail(c *gin.Context, e *xerr.CodeError) {
	Error(c, e.Code, e.Message)
}

// Abort 写错误响应并终止后续 handler，供中间件使用
func Abort(c *gin.Context, e *xerr.CodeError) {
	Fail(c, e)
	c.Abort()
}
