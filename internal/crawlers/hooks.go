package crawlers

import (
	"context"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

// StepInfo 钩子收到的运行快照
type StepInfo struct {
	RunID         string
	GroupURL      string
	ScrollAttempt int
	Yielded       int
	NewElements   int // 本周期新发现的文章元素
	StallCount    int
}

// Hooks 可选的步骤钩子,以组合方式包装抓取循环
// 任何字段为nil都表示不处理
type Hooks struct {
	BeforeScroll func(ctx context.Context, page browser.Page, info StepInfo)
	AfterExtract func(ctx context.Context, page browser.Page, info StepInfo)
	OnStall      func(ctx context.Context, page browser.Page, info StepInfo)
	OnFinish     func(stats models.RunStats, err error)
}

func (h Hooks) beforeScroll(ctx context.Context, page browser.Page, info StepInfo) {
	if h.BeforeScroll != nil {
		h.BeforeScroll(ctx, page, info)
	}
}

func (h Hooks) afterExtract(ctx context.Context, page browser.Page, info StepInfo) {
	if h.AfterExtract != nil {
		h.AfterExtract(ctx, page, info)
	}
}

func (h Hooks) onStall(ctx context.Context, page browser.Page, info StepInfo) {
	if h.OnStall != nil {
		h.OnStall(ctx, page, info)
	}
}

func (h Hooks) onFinish(stats models.RunStats, err error) {
	if h.OnFinish != nil {
		h.OnFinish(stats, err)
	}
}

// Chain 依次执行多组钩子
func Chain(all ...Hooks) Hooks {
	return Hooks{
		BeforeScroll: func(ctx context.Context, page browser.Page, info StepInfo) {
			for _, h := range all {
				h.beforeScroll(ctx, page, info)
			}
		},
		AfterExtract: func(ctx context.Context, page browser.Page, info StepInfo) {
			for _, h := range all {
				h.afterExtract(ctx, page, info)
			}
		},
		OnStall: func(ctx context.Context, page browser.Page, info StepInfo) {
			for _, h := range all {
				h.onStall(ctx, page, info)
			}
		},
		OnFinish: func(stats models.RunStats, err error) {
			for _, h := range all {
				h.onFinish(stats, err)
			}
		},
	}
}
