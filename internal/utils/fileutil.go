package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// WriteFileAtomic 原子写入文件
// 先写临时文件再rename,读者只会看到旧内容或完整的新内容
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败: %w", err)
		}
	}
	if err := renameio.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("原子写入失败 %s: %w", path, err)
	}
	return nil
}
