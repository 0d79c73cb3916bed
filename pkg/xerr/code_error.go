package xerr

import (
	"errors"
	"fmt"
)

// CodeError 带业务码的错误，HTTP 层原样写进响应体
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("code=%d message=%s", e.Code, e.Message)
}

// WithMessage 复制一份并替换提示语，预定义错误本身不变
func (e *CodeError) WithMessage(msg string) *CodeError {
	return &CodeError{Code: e.Code, Message: msg}
}

func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// As 从错误链中取出 CodeError
func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// From 非 CodeError 一律视为系统错误
func From(err error) *CodeError {
	if err == nil {
		return nil
	}
	if ce, ok := As(err); ok {
		return ce
	}
	return ErrServerError
}

const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
)

var (
	ErrServerError  = New(InternalServerError, "系统错误，请联系工作人员")
	ErrParam        = New(BadRequest, "参数错误")
	ErrUnauthorized = New(Unauthorized, "未登录或登录已过期")
	ErrNotFound     = New(NotFound, "资源不存在")
	ErrConflict     = New(Conflict, "资源冲突")
)
