package browser_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/browser/browsertest"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

func TestScriptsHaveUniqueNames(t *testing.T) {
	scripts := []browser.Script{
		browser.ScriptHasArticles,
		browser.ScriptContentReady,
		browser.ScriptExtractPosts,
		browser.ScriptAnalyzeArticle,
		browser.ScriptDiscoverArticleSelectors,
		browser.ScriptForceScrollable,
		browser.ScriptFocus,
		browser.ScriptDispatchEscape,
		browser.ScriptHasOverlays,
		browser.ScriptClickFirst,
		browser.ScriptNukeBlocking,
		browser.ScriptPruneDone,
		browser.ScriptScrollBy,
		browser.ScriptCaptureArticles,
		browser.ScriptDiscussionTab,
		browser.ScriptSessionProbe,
		browser.ScriptFillLogin,
		browser.ScriptCaptureStorage,
		browser.ScriptRestoreStorage,
		browser.ScriptFeedStats,
	}

	seen := make(map[string]bool)
	for _, s := range scripts {
		if s.Name == "" || seen[s.Name] {
			t.Errorf("脚本名称为空或重复: %q", s.Name)
		}
		seen[s.Name] = true
		if !strings.Contains(s.Source, "=>") {
			t.Errorf("脚本 %s 必须是函数表达式", s.Name)
		}
		if strings.Contains(s.Source, "`") {
			t.Errorf("脚本 %s 不应包含反引号", s.Name)
		}
	}
}

func TestSleep(t *testing.T) {
	t.Run("正常等待", func(t *testing.T) {
		if err := browser.Sleep(context.Background(), time.Millisecond); err != nil {
			t.Errorf("Sleep() error = %v", err)
		}
	})

	t.Run("取消后立即返回", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		err := browser.Sleep(ctx, time.Hour)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Sleep() error = %v, want context.Canceled", err)
		}
		if time.Since(start) > time.Second {
			t.Error("取消后未立即返回")
		}
	})
}

func TestFakePage_EvalRoundTrip(t *testing.T) {
	page := browsertest.NewPage().Return(browser.ScriptExtractPosts.Name, []map[string]interface{}{
		{"key": "gh1", "fresh": true, "text": "hello", "hrefs": []string{"https://www.facebook.com/groups/1/posts/2/"}},
	})

	var posts []browser.RawPost
	if err := page.Eval(context.Background(), browser.ScriptExtractPosts, &posts, browser.ExtractConfig{}); err != nil {
		t.Fatal(err)
	}
	if len(posts) != 1 || posts[0].Key != "gh1" || !posts[0].Fresh || len(posts[0].Hrefs) != 1 {
		t.Errorf("解码结果不正确: %+v", posts)
	}
	if page.Calls(browser.ScriptExtractPosts.Name) != 1 {
		t.Error("调用计数不正确")
	}
}

func TestRetry(t *testing.T) {
	t.Run("第三次成功", func(t *testing.T) {
		n := 0
		err := browser.Retry(context.Background(), "测试", 3, time.Millisecond, func(context.Context) error {
			n++
			if n < 3 {
				return errors.New("暂时失败")
			}
			return nil
		})
		if err != nil || n != 3 {
			t.Errorf("Retry() err=%v, 调用次数=%d", err, n)
		}
	})

	t.Run("耗尽重试", func(t *testing.T) {
		n := 0
		err := browser.Retry(context.Background(), "测试", 3, time.Millisecond, func(context.Context) error {
			n++
			return errors.New("一直失败")
		})
		if !errors.Is(err, models.ErrMaxRetriesReached) {
			t.Errorf("Retry() err=%v, want ErrMaxRetriesReached", err)
		}
		if n != 3 {
			t.Errorf("期望尝试3次, 实际 %d", n)
		}
	})

	t.Run("导航重试", func(t *testing.T) {
		page := browsertest.NewPage()
		fails := 1
		page.NavigateFunc = func(string) error {
			if fails > 0 {
				fails--
				return errors.New("net::ERR_TIMED_OUT")
			}
			return nil
		}
		err := browser.NavigateWithRetry(context.Background(), page, "https://www.facebook.com/", time.Second, time.Millisecond)
		if err != nil {
			t.Fatalf("NavigateWithRetry() error = %v", err)
		}
		if page.Calls("navigate") != 2 {
			t.Errorf("期望导航2次, 实际 %d", page.Calls("navigate"))
		}
	})
}
