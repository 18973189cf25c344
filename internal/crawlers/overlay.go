package crawlers

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/selectors"
)

// DismissReport 一次遮罩清理的结果
type DismissReport struct {
	OverlaysFound bool
	Clicked       string // 命中的选择器
	ClickMode     string // visible / js
	Removed       int    // 被删除的遮挡元素
}

// Dismissed 是否实际清理了遮罩
func (r DismissReport) Dismissed() bool {
	return r.Clicked != "" || r.Removed > 0
}

// OverlayDismisser 清理登录提示、弹窗等遮罩
// 所有步骤失败都只记录debug日志,不返回错误
type OverlayDismisser struct {
	registry *selectors.Registry
}

// NewOverlayDismisser 创建遮罩清理器
func NewOverlayDismisser(registry *selectors.Registry) *OverlayDismisser {
	return &OverlayDismisser{registry: registry}
}

// Dismiss 按顺序执行: 聚焦,解除滚动锁定,ESC,点击关闭按钮,删除遮挡元素
func (d *OverlayDismisser) Dismiss(ctx context.Context, page browser.Page) DismissReport {
	var report DismissReport

	if err := page.Focus(ctx); err != nil {
		log.Debug().Err(err).Msg("页面聚焦失败")
	}
	d.eval(ctx, page, browser.ScriptFocus)
	d.eval(ctx, page, browser.ScriptForceScrollable)
	d.escape(ctx, page)

	var present bool
	if err := page.Eval(ctx, browser.ScriptHasOverlays, &present, d.registry.Candidates(selectors.Overlay)); err != nil {
		log.Debug().Err(err).Msg("遮罩检测失败")
	}
	if !present {
		log.Debug().Msg("未发现遮罩")
		return report
	}
	report.OverlaysFound = true

	var click browser.ClickResult
	if err := page.Eval(ctx, browser.ScriptClickFirst, &click, d.buttonCandidates()); err != nil {
		log.Debug().Err(err).Msg("点击关闭按钮失败")
	}
	if click.Selector != "" {
		report.Clicked, report.ClickMode = click.Selector, click.Mode
		log.Debug().Str("selector", click.Selector).Str("mode", click.Mode).Msg("已点击遮罩关闭按钮")
	} else {
		d.escape(ctx, page)
	}

	if err := page.Eval(ctx, browser.ScriptNukeBlocking, &report.Removed, d.registry.Candidates(selectors.FeedContainer)); err != nil {
		log.Debug().Err(err).Msg("删除遮挡元素失败")
	} else if report.Removed > 0 {
		log.Debug().Int("removed", report.Removed).Msg("已删除遮挡元素")
	}

	d.eval(ctx, page, browser.ScriptForceScrollable)
	return report
}

// buttonCandidates dismiss_button 在前, close_button 在后,去重
func (d *OverlayDismisser) buttonCandidates() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range []string{selectors.DismissButton, selectors.CloseButton} {
		for _, s := range d.registry.Candidates(t) {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func (d *OverlayDismisser) escape(ctx context.Context, page browser.Page) {
	if err := page.PressEscape(ctx); err != nil {
		log.Debug().Err(err).Msg("ESC按键失败")
	}
	d.eval(ctx, page, browser.ScriptDispatchEscape)
}

func (d *OverlayDismisser) eval(ctx context.Context, page browser.Page, script browser.Script) {
	if err := page.Eval(ctx, script, nil); err != nil {
		log.Debug().Err(err).Str("script", script.Name).Msg("页面脚本执行失败")
	}
}
