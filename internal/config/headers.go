// Package config 加载注入浏览器的额外HTTP头部
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
	"github.com/spf13/viper"
)

const (
	// MaxConfigFileSize 头部文件最大大小 (1MB)
	MaxConfigFileSize = 1 * 1024 * 1024
)

// HeaderFile 头部文件结构
//
//	headers:
//	  Accept-Language: zh-CN,zh;q=0.9
type HeaderFile struct {
	Headers map[string]string `mapstructure:"headers"`
}

// HeaderFileLoader 头部文件加载器
// 文件是可选的,路径为空或文件不存在时返回空配置
type HeaderFileLoader struct {
	path string
}

// NewHeaderFileLoader 创建加载器
func NewHeaderFileLoader(path string) *HeaderFileLoader {
	return &HeaderFileLoader{path: path}
}

// Path 文件路径
func (l *HeaderFileLoader) Path() string {
	return l.path
}

// ValidateFileSize 验证文件大小是否在限制内
func (l *HeaderFileLoader) ValidateFileSize() error {
	info, err := os.Stat(l.path)
	if err != nil {
		return fmt.Errorf("无法读取头部文件信息 [%s]: %w", l.path, err)
	}

	if info.Size() > MaxConfigFileSize {
		return &models.ConfigError{
			FilePath: l.path,
			Cause: fmt.Errorf("头部文件过大: %d 字节 (最大 %d 字节)",
				info.Size(), MaxConfigFileSize),
		}
	}
	return nil
}

// Load 加载头部文件
func (l *HeaderFileLoader) Load() (*HeaderFile, error) {
	empty := &HeaderFile{Headers: make(map[string]string)}
	if l.path == "" {
		return empty, nil
	}
	if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
		utils.Debugf("头部文件不存在,跳过: %s", l.path)
		return empty, nil
	}

	if err := l.ValidateFileSize(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(l.path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// 文件被其他进程占用时降级为空配置
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			utils.Warnf("头部文件被锁定 [%s], 使用默认头部", l.path)
			return empty, nil
		}
		return nil, &models.ConfigError{FilePath: l.path, Cause: err}
	}

	var file HeaderFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, &models.ConfigError{
			FilePath: l.path,
			Cause:    fmt.Errorf("配置绑定失败: %w", err),
		}
	}
	if file.Headers == nil {
		file.Headers = make(map[string]string)
	}
	return &file, nil
}

// ParseCLIHeaders 解析命令行 -H 参数,格式 "Name: Value"
// 同名头部后者覆盖前者
func ParseCLIHeaders(raw []string) (http.Header, error) {
	headers := make(http.Header)
	for _, item := range raw {
		name, value, ok := strings.Cut(item, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, &models.ValidationError{
				Field:      "header",
				Value:      item,
				Reason:     "格式错误",
				Suggestion: `使用 -H "Name: Value"`,
			}
		}
		headers.Set(name, strings.TrimSpace(value))
	}
	return headers, nil
}
