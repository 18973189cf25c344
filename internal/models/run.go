package models

import "time"

// StopReason 抓取终止原因
type StopReason string

const (
	StopNone           StopReason = ""
	StopTargetReached  StopReason = "target_reached"  // 已达目标数量
	StopScrollCeiling  StopReason = "scroll_ceiling"  // 滚动次数上限
	StopStalled        StopReason = "stalled"         // 连续滚动无新元素
	StopContentTimeout StopReason = "content_timeout" // 已有产出后等待内容超时
	StopAbandoned      StopReason = "abandoned"       // 调用方停止迭代
)

// ExtractionRun 单次ScrapeGroup调用的运行状态
// 仅在一次调用内存在,返回后即丢弃
type ExtractionRun struct {
	TargetCount           int
	MaxScrollAttempts     int
	StallThreshold        int
	YieldedCount          int
	ScrollAttempt         int
	ConsecutiveStallCount int
	StartedAt             time.Time

	processed map[string]struct{}
}

// NewExtractionRun 创建运行状态
func NewExtractionRun(targetCount, maxScrollAttempts, stallThreshold int) *ExtractionRun {
	if stallThreshold < 1 {
		stallThreshold = 3
	}
	if maxScrollAttempts < 1 {
		maxScrollAttempts = targetCount * 5
	}
	return &ExtractionRun{
		TargetCount:       targetCount,
		MaxScrollAttempts: maxScrollAttempts,
		StallThreshold:    stallThreshold,
		StartedAt:         time.Now(),
		processed:         make(map[string]struct{}),
	}
}

// MarkProcessed 标记DOM元素已处理,返回是否为新元素
func (r *ExtractionRun) MarkProcessed(key string) bool {
	if _, ok := r.processed[key]; ok {
		return false
	}
	r.processed[key] = struct{}{}
	return true
}

// Forget 撤销处理标记,元素再次出现时重新处理
func (r *ExtractionRun) Forget(key string) {
	delete(r.processed, key)
}

// IsProcessed 判断元素是否已处理
func (r *ExtractionRun) IsProcessed(key string) bool {
	_, ok := r.processed[key]
	return ok
}

// ProcessedCount 已处理元素数量
func (r *ExtractionRun) ProcessedCount() int {
	return len(r.processed)
}

// RecordYield 记录一次产出
func (r *ExtractionRun) RecordYield() {
	r.YieldedCount++
}

// ObserveCycle 记录一个提取周期发现的新元素数量,返回是否构成停滞
func (r *ExtractionRun) ObserveCycle(newElements int) bool {
	if newElements > 0 {
		r.ConsecutiveStallCount = 0
		return false
	}
	r.ConsecutiveStallCount++
	return true
}

// RecordScroll 记录一次滚动
func (r *ExtractionRun) RecordScroll() {
	r.ScrollAttempt++
}

// Remaining 距离目标还差多少
func (r *ExtractionRun) Remaining() int {
	if r.YieldedCount >= r.TargetCount {
		return 0
	}
	return r.TargetCount - r.YieldedCount
}

// StopReason 返回当前是否应终止及原因
func (r *ExtractionRun) StopReason() StopReason {
	switch {
	case r.YieldedCount >= r.TargetCount:
		return StopTargetReached
	case r.ConsecutiveStallCount >= r.StallThreshold:
		return StopStalled
	case r.ScrollAttempt >= r.MaxScrollAttempts:
		return StopScrollCeiling
	default:
		return StopNone
	}
}
