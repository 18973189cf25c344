package models

import (
	"encoding/json"
	"time"
)

// ScrapeReport 抓取报告
type ScrapeReport struct {
	// 任务信息
	TaskID   string `json:"task_id"`
	GroupURL string `json:"group_url"`
	Engine   Engine `json:"engine"`

	// 时间信息
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // 秒

	// 统计信息
	Stats  RunStats   `json:"stats"`
	Status TaskStatus `json:"status"`
	Target int        `json:"target"`
	Added  int        `json:"added"` // 持久化新增数量

	// 选择器失败 (元素类型 -> 选择器 -> 次数)
	SelectorFailures map[string]map[string]int `json:"selector_failures,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// ToJSON 序列化为JSON
func (r *ScrapeReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *ScrapeReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
