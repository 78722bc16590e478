package options

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter 市场参数不合法
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInvalidConfig 模拟配置不合法
	ErrInvalidConfig = errors.New("invalid config")
	// ErrMissingConfig 模拟类定价缺少配置
	ErrMissingConfig = errors.New("missing simulation config")
	// ErrNumericDomain 内部数值域检查失败
	ErrNumericDomain = errors.New("numeric domain error")
)

// FieldError 携带出错字段和取值，可以直接展示给调用方。
// errors.Is(err, ErrInvalidParameter) 等判断通过 Unwrap 生效。
type FieldError struct {
	Err   error
	Field string
	Value any
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s=%v", e.Err, e.Field, e.Value)
}

func (e *FieldError) Unwrap() error { return e.Err }
