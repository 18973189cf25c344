package models

import (
	"errors"
	"fmt"
)

// 错误类型定义
var (
	ErrBrowserCrashed    = errors.New("浏览器崩溃")
	ErrMaxRetriesReached = errors.New("已达最大重试次数")
	ErrContentTimeout    = errors.New("等待真实内容超时")
	ErrLoginTimeout      = errors.New("手动登录超时")
	ErrNoSession         = errors.New("没有可用的会话状态")
	ErrKeyUnavailable    = errors.New("无法获取会话加密密钥")
	ErrRunConsumed       = errors.New("该抓取序列已被消费,请重新调用ScrapeGroup")
	ErrInvalidRequest    = errors.New("无效的抓取请求")
)

// ValidationError 校验错误
// 用于选择器、请求头、抓取请求等输入的校验失败
type ValidationError struct {
	// Field 出错的字段
	Field string

	// Value 出错的值
	Value string

	// Reason 错误原因
	Reason string

	// Suggestion 修复建议 (可选)
	Suggestion string
}

// Error 实现error接口
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("校验失败 [%s=%q]: %s", e.Field, e.Value, e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (建议: %s)", e.Suggestion)
	}
	return msg
}

// ConfigError 配置文件错误
type ConfigError struct {
	// FilePath 配置文件路径
	FilePath string

	// Cause 底层错误 (如viper.ConfigParseError)
	Cause error
}

// Error 实现error接口
func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ContentShapeError 帖子结构错误
// 必需字段没有任何候选选择器命中,该帖子被跳过,抓取继续
type ContentShapeError struct {
	Element string
	Reason  string
}

// Error 实现error接口
func (e *ContentShapeError) Error() string {
	return fmt.Sprintf("帖子结构不完整 [%s]: %s", e.Element, e.Reason)
}

// IsContentShape 判断错误是否为可跳过的结构错误
func IsContentShape(err error) bool {
	var shapeErr *ContentShapeError
	return errors.As(err, &shapeErr)
}
