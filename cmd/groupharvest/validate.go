package main

import (
	"fmt"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

// ValidateFlags 验证命令行标志
func ValidateFlags(targetURL string, count int, engine string, workers int) error {
	// 验证URL
	if targetURL != "" {
		if err := models.ValidateGroupURL(targetURL); err != nil {
			return fmt.Errorf("无效的小组URL: %w", err)
		}
	}

	// 验证目标数量
	if count < 1 || count > 10000 {
		return fmt.Errorf("目标数量必须在1-10000之间,当前值: %d", count)
	}

	// 验证引擎
	switch models.Engine(engine) {
	case models.EngineRod, models.EnginePool:
	default:
		return fmt.Errorf("无效的抓取引擎: %s (有效值: rod, pool)", engine)
	}

	// 验证工作协程数
	if workers < 1 || workers > 32 {
		return fmt.Errorf("工作协程数必须在1-32之间,当前值: %d", workers)
	}

	return nil
}

// ValidateGoal 验证压力测试参数
func ValidateGoal(goal, runs int) error {
	if goal < 1 {
		return fmt.Errorf("目标数量必须大于0,当前值: %d", goal)
	}
	if runs < 1 || runs > 100 {
		return fmt.Errorf("运行次数必须在1-100之间,当前值: %d", runs)
	}
	return nil
}
