package utils

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

// MaxHeaderValueLength 单个头部值上限
const MaxHeaderValueLength = 8192

// 由浏览器自行管理的头部。Cookie 来自会话状态,手工注入会覆盖登录态
var forbiddenBrowserHeaders = map[string]string{
	"host":              "由浏览器根据URL设置",
	"content-length":    "由浏览器根据请求体设置",
	"transfer-encoding": "由浏览器管理",
	"connection":        "由浏览器管理",
	"cookie":            "请使用 groupharvest login 保存会话",
}

var (
	headerNameRe  = regexp.MustCompile(`^[A-Za-z0-9!#$%&'*+.^_|~-]+$`)
	headerValueRe = regexp.MustCompile(`^[\x20-\x7E\t]*$`)
)

// HeaderValidator 检查通过 Network.setExtraHTTPHeaders 注入的头部
type HeaderValidator struct {
	maxValueLength int
}

// NewHeaderValidator 创建验证器
func NewHeaderValidator() *HeaderValidator {
	return &HeaderValidator{maxValueLength: MaxHeaderValueLength}
}

// IsForbidden 头部是否不允许注入
func (hv *HeaderValidator) IsForbidden(name string) bool {
	_, ok := forbiddenBrowserHeaders[strings.ToLower(name)]
	return ok
}

// ValidateHeader 验证单个头部
func (hv *HeaderValidator) ValidateHeader(name, value string) error {
	if why, ok := forbiddenBrowserHeaders[strings.ToLower(name)]; ok {
		return &models.ValidationError{
			Field:      "header",
			Value:      name,
			Reason:     "不允许注入该头部",
			Suggestion: why,
		}
	}
	if !headerNameRe.MatchString(name) {
		return &models.ValidationError{
			Field:      "header",
			Value:      name,
			Reason:     "头部名称为空或包含非法字符",
			Suggestion: "例如 'Accept-Language', 'X-Requested-With'",
		}
	}
	if len(value) > hv.maxValueLength {
		return &models.ValidationError{
			Field:  "header",
			Value:  name,
			Reason: fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), hv.maxValueLength),
		}
	}
	if !headerValueRe.MatchString(value) {
		return &models.ValidationError{
			Field:      "header",
			Value:      name,
			Reason:     "头部值包含控制字符或非ASCII字符",
			Suggestion: "非ASCII内容请先进行百分号编码",
		}
	}
	return nil
}

// Validate 按名称顺序验证全部头部,返回第一个错误
func (hv *HeaderValidator) Validate(headers http.Header) error {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, value := range headers[name] {
			if err := hv.ValidateHeader(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}
