package utils

import (
	"net/http"
	"strings"
)

// 名称包含这些片段的头部视为敏感
var sensitiveHeaderParts = []string{"auth", "token", "key", "cookie", "session", "secret", "password", "csrf"}

// HeaderRedactor 日志输出前隐藏敏感头部的值
type HeaderRedactor struct {
	parts []string
}

// NewHeaderRedactor 创建脱敏器
func NewHeaderRedactor() *HeaderRedactor {
	return &HeaderRedactor{parts: sensitiveHeaderParts}
}

func (hr *HeaderRedactor) sensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range hr.parts {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Redact 返回可以写入日志的头部副本,多值头部以 ", " 连接
func (hr *HeaderRedactor) Redact(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		value := strings.Join(values, ", ")
		if hr.sensitive(name) {
			if scheme, _, ok := strings.Cut(value, " "); ok && (scheme == "Bearer" || scheme == "Basic") {
				value = scheme + " ***"
			} else {
				value = RedactSecret(value)
			}
		}
		out[name] = value
	}
	return out
}

// RedactSecret 只保留首尾各3个字符
func RedactSecret(value string) string {
	if len(value) > 12 {
		return value[:3] + "***" + value[len(value)-3:]
	}
	return "***"
}

// RedactCookies 保留cookie名称,隐藏值
func RedactCookies(cookies map[string]string) map[string]string {
	out := make(map[string]string, len(cookies))
	for name, value := range cookies {
		out[name] = RedactSecret(value)
	}
	return out
}
