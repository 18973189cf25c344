package utils

import (
	"strings"

	"github.com/andybalholm/cascadia"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

// MaxSelectorLength CSS选择器最大长度
const MaxSelectorLength = 512

// ValidateSelector 验证CSS选择器语法
// 支持逗号分隔的选择器组,返回ValidationError
func ValidateSelector(elementType, selector string) error {
	trimmed := strings.TrimSpace(selector)
	if trimmed == "" {
		return &models.ValidationError{
			Field:  elementType,
			Value:  selector,
			Reason: "选择器不能为空",
		}
	}

	if len(trimmed) > MaxSelectorLength {
		return &models.ValidationError{
			Field:      elementType,
			Value:      trimmed[:32] + "...",
			Reason:     "选择器过长",
			Suggestion: "使用更短的属性或角色选择器",
		}
	}

	if _, err := cascadia.ParseGroup(trimmed); err != nil {
		return &models.ValidationError{
			Field:      elementType,
			Value:      trimmed,
			Reason:     "CSS语法无效: " + err.Error(),
			Suggestion: "例如 div[role=\"article\"] 或 a[href*=\"/posts/\"]",
		}
	}
	return nil
}
