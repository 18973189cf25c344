package models

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ValidateURL 验证URL
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("无效的URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL必须是HTTP或HTTPS协议")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL必须包含主机名")
	}
	return nil
}

// ValidateGroupURL 验证群组URL,要求路径中包含 /groups/<id>
func ValidateGroupURL(urlStr string) error {
	if err := ValidateURL(urlStr); err != nil {
		return err
	}
	parsed, _ := url.Parse(urlStr)
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 || segments[0] != "groups" || segments[1] == "" {
		return &ValidationError{
			Field:      "group_url",
			Value:      urlStr,
			Reason:     "URL路径中缺少 /groups/<id>",
			Suggestion: "例如 https://www.facebook.com/groups/123456789",
		}
	}
	return nil
}

// generateID 生成唯一ID
func generateID() string {
	return uuid.New().String()
}
