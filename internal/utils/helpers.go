package utils

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

// ReadURLsFromFile 读取小组URL列表
// 每行一个URL,#开头为注释,行内 # 之后的内容忽略。非小组URL跳过并告警,重复的URL只保留第一次
func ReadURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开URL文件失败: %w", err)
	}
	defer file.Close()

	var urls []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := scanner.Text()
		if i := strings.Index(line, " #"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := models.ValidateGroupURL(line); err != nil {
			Warnf("跳过第 %d 行: %v", lineNum, err)
			continue
		}
		key := strings.TrimRight(line, "/")
		if _, dup := seen[key]; dup {
			Debugf("跳过重复URL (行 %d): %s", lineNum, line)
			continue
		}
		seen[key] = struct{}{}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取URL文件失败: %w", err)
	}

	if len(urls) == 0 {
		return nil, fmt.Errorf("%s 中没有有效的小组URL", path)
	}
	Infof("从文件加载了 %d 个小组", len(urls))
	return urls, nil
}
