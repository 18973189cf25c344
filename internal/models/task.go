package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"   // 待执行
	TaskStatusRunning   TaskStatus = "running"   // 执行中
	TaskStatusCompleted TaskStatus = "completed" // 已完成
	TaskStatusPartial   TaskStatus = "partial"   // 未达目标但有产出
	TaskStatusFailed    TaskStatus = "failed"    // 失败
)

// Engine 抓取引擎
type Engine string

const (
	EngineRod  Engine = "rod"  // 异步单页驱动(go-rod)
	EnginePool Engine = "pool" // 单驱动+解析工作池(chromedp)
)

// RunStats 运行统计
type RunStats struct {
	Yielded           int        `json:"yielded"`            // 产出帖子数
	Skipped           int        `json:"skipped"`            // 字段缺失被跳过
	Duplicates        int        `json:"duplicates"`         // 去重丢弃
	ParseErrors       int        `json:"parse_errors"`       // 解析工作协程失败
	ScrollAttempts    int        `json:"scroll_attempts"`    // 滚动次数
	Stalls            int        `json:"stalls"`             // 停滞周期数
	OverlaysDismissed int        `json:"overlays_dismissed"` // 关闭的遮罩
	Pruned            int        `json:"pruned"`             // 修剪的DOM节点
	BrowserRestarts   int        `json:"browser_restarts"`   // 浏览器重启次数
	StopReason        StopReason `json:"stop_reason"`
	Duration          float64    `json:"duration"` // 秒
}

// ScrapeConfig 抓取配置
type ScrapeConfig struct {
	Engine            string        `mapstructure:"engine" json:"engine"`
	TargetCount       int           `mapstructure:"target_count" json:"target_count"`
	Headless          bool          `mapstructure:"headless" json:"headless"`
	Workers           int           `mapstructure:"workers" json:"workers"`
	MaxScrollFactor   int           `mapstructure:"max_scroll_factor" json:"max_scroll_factor"`
	StallThreshold    int           `mapstructure:"stall_threshold" json:"stall_threshold"`
	PruneEvery        int           `mapstructure:"prune_every" json:"prune_every"`
	PruneKeep         int           `mapstructure:"prune_keep" json:"prune_keep"`
	ScrollMinPx       int           `mapstructure:"scroll_min_px" json:"scroll_min_px"`
	ScrollMaxPx       int           `mapstructure:"scroll_max_px" json:"scroll_max_px"`
	PauseMin          time.Duration `mapstructure:"pause_min" json:"pause_min"`
	PauseMax          time.Duration `mapstructure:"pause_max" json:"pause_max"`
	ContentTimeout    time.Duration `mapstructure:"content_timeout" json:"content_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" json:"navigation_timeout"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout" json:"drain_timeout"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay" json:"retry_base_delay"`
	MinContentLength  int           `mapstructure:"min_content_length" json:"min_content_length"`
}

// DefaultScrapeConfig 默认抓取配置
func DefaultScrapeConfig() ScrapeConfig {
	return ScrapeConfig{
		Engine:            string(EngineRod),
		TargetCount:       10,
		Headless:          true,
		Workers:           5,
		MaxScrollFactor:   5,
		StallThreshold:    3,
		PruneEvery:        5,
		PruneKeep:         10,
		ScrollMinPx:       700,
		ScrollMaxPx:       950,
		PauseMin:          1000 * time.Millisecond,
		PauseMax:          2500 * time.Millisecond,
		ContentTimeout:    30 * time.Second,
		NavigationTimeout: 60 * time.Second,
		DrainTimeout:      5 * time.Second,
		RetryBaseDelay:    4 * time.Second,
		MinContentLength:  100,
	}
}

// Validate 验证配置
func (c *ScrapeConfig) Validate() error {
	if c.Engine != string(EngineRod) && c.Engine != string(EnginePool) {
		return fmt.Errorf("引擎必须是 rod 或 pool: %q", c.Engine)
	}
	if c.TargetCount < 1 {
		return fmt.Errorf("目标数量必须大于0")
	}
	if c.Workers < 1 || c.Workers > 32 {
		return fmt.Errorf("解析工作协程数必须在1-32之间")
	}
	if c.StallThreshold < 1 {
		return fmt.Errorf("停滞阈值必须大于0")
	}
	if c.MaxScrollFactor < 1 {
		return fmt.Errorf("滚动上限系数必须大于0")
	}
	if c.PruneEvery < 1 || c.PruneKeep < 0 {
		return fmt.Errorf("DOM修剪参数无效")
	}
	if c.ScrollMinPx <= 0 || c.ScrollMaxPx < c.ScrollMinPx {
		return fmt.Errorf("滚动步长范围无效: %d-%d", c.ScrollMinPx, c.ScrollMaxPx)
	}
	if c.PauseMin < 0 || c.PauseMax < c.PauseMin {
		return fmt.Errorf("滚动停顿范围无效: %v-%v", c.PauseMin, c.PauseMax)
	}
	if c.ContentTimeout <= 0 || c.NavigationTimeout <= 0 {
		return fmt.Errorf("超时时间必须大于0")
	}
	return nil
}

// MaxScrollAttempts 滚动次数上限
func (c *ScrapeConfig) MaxScrollAttempts(targetCount int) int {
	return targetCount * c.MaxScrollFactor
}

// ScrapeRequest 一次抓取请求
type ScrapeRequest struct {
	GroupURL    string   `json:"group_url"`
	TargetCount int      `json:"target_count"`
	Headless    bool     `json:"headless"`
	Fields      FieldSet `json:"fields,omitempty"`
}

// Validate 验证请求
func (r ScrapeRequest) Validate() error {
	if err := ValidateGroupURL(r.GroupURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.TargetCount < 1 {
		return fmt.Errorf("%w: 目标数量必须大于0", ErrInvalidRequest)
	}
	return nil
}

// ScrapeTask 一次抓取任务(用于报告)
type ScrapeTask struct {
	ID          string       `json:"id"`
	GroupURL    string       `json:"group_url"`
	Engine      Engine       `json:"engine"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Config      ScrapeConfig `json:"config"`
	Status      TaskStatus   `json:"status"`
	Stats       RunStats     `json:"stats"`

	// 错误信息
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewScrapeTask 创建新任务
func NewScrapeTask(groupURL string, engine Engine, config ScrapeConfig) (*ScrapeTask, error) {
	if err := ValidateGroupURL(groupURL); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &ScrapeTask{
		ID:        generateID(),
		GroupURL:  groupURL,
		Engine:    engine,
		CreatedAt: time.Now(),
		Config:    config,
		Status:    TaskStatusPending,
	}, nil
}

// Finish 根据统计设置最终状态
func (t *ScrapeTask) Finish(stats RunStats, err error) {
	now := time.Now()
	t.CompletedAt = &now
	t.Stats = stats
	switch {
	case err != nil:
		t.Status = TaskStatusFailed
		t.ErrorMessage = err.Error()
	case stats.Yielded < t.Config.TargetCount:
		t.Status = TaskStatusPartial
	default:
		t.Status = TaskStatusCompleted
	}
}

// ToJSON 序列化为JSON
func (t *ScrapeTask) ToJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}
