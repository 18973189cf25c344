package crawlers

import (
	"context"
	"testing"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/browser/browsertest"
	"github.com/RecoveryAshes/GroupHarvest/internal/selectors"
)

func TestOverlayDismisser(t *testing.T) {
	t.Run("无遮罩时只做解锁与ESC", func(t *testing.T) {
		page := browsertest.NewPage().Return(browser.ScriptHasOverlays.Name, false)
		report := NewOverlayDismisser(selectors.New("")).Dismiss(context.Background(), page)

		if report.Dismissed() || report.OverlaysFound {
			t.Errorf("不应报告遮罩: %+v", report)
		}
		if page.Calls(browser.ScriptClickFirst.Name) != 0 || page.Calls(browser.ScriptNukeBlocking.Name) != 0 {
			t.Error("无遮罩时不应点击或删除元素")
		}
		if page.Calls(browser.ScriptForceScrollable.Name) != 1 || page.Escapes() != 1 {
			t.Errorf("force_scrollable=%d escapes=%d", page.Calls(browser.ScriptForceScrollable.Name), page.Escapes())
		}
	})

	t.Run("点击关闭按钮并删除遮挡元素", func(t *testing.T) {
		var buttons []string
		page := browsertest.NewPage().
			Return(browser.ScriptHasOverlays.Name, true).
			Return(browser.ScriptNukeBlocking.Name, 2).
			Handle(browser.ScriptClickFirst.Name, func(args []interface{}) (interface{}, error) {
				buttons = args[0].([]string)
				return browser.ClickResult{Selector: buttons[0], Mode: "click"}, nil
			})
		report := NewOverlayDismisser(selectors.New("")).Dismiss(context.Background(), page)

		if !report.Dismissed() || report.ClickMode != "click" || report.Removed != 2 {
			t.Errorf("报告 = %+v", report)
		}
		if report.Clicked != selectors.Defaults(selectors.DismissButton)[0] {
			t.Errorf("应优先点击dismiss按钮, 实际 %q", report.Clicked)
		}
		seen := make(map[string]bool)
		for _, b := range buttons {
			if seen[b] {
				t.Errorf("候选按钮重复: %q", b)
			}
			seen[b] = true
		}
		if page.Escapes() != 1 {
			t.Errorf("点击成功后不应再按ESC, escapes=%d", page.Escapes())
		}
		if page.Calls(browser.ScriptForceScrollable.Name) != 2 {
			t.Error("清理后应再次解除滚动锁定")
		}
	})

	t.Run("没有可点击按钮时再按一次ESC", func(t *testing.T) {
		page := browsertest.NewPage().Return(browser.ScriptHasOverlays.Name, true)
		report := NewOverlayDismisser(selectors.New("")).Dismiss(context.Background(), page)

		if report.Clicked != "" || !report.OverlaysFound {
			t.Errorf("报告 = %+v", report)
		}
		if page.Escapes() != 2 {
			t.Errorf("escapes = %d, 期望 2", page.Escapes())
		}
	})
}
