package crawlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/browser/browsertest"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/selectors"
)

func scrapeAll(t *testing.T, c *FeedCrawler, req models.ScrapeRequest) ([]models.PostRecord, error) {
	t.Helper()
	var (
		posts []models.PostRecord
		last  error
	)
	for post, err := range c.ScrapeGroup(context.Background(), req) {
		if err != nil {
			last = err
			continue
		}
		posts = append(posts, post)
	}
	return posts, last
}

func ids(posts []models.PostRecord) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ExternalID)
	}
	return out
}

func TestFeedCrawler_StallTermination(t *testing.T) {
	page := newReadyPage().Handle(browser.ScriptExtractPosts.Name, sequence(
		[]browser.RawPost{
			rawPost("gh1", "1001", "first post text", "Alice"),
			rawPost("gh2", "1002", "second post text", "Bob"),
		},
	))
	launcher := browsertest.NewLauncher(page)
	rec := &finishRecorder{}
	crawler, err := NewFeedCrawler(newTestOptions(t, launcher, models.EngineRod, rec.hooks()))
	if err != nil {
		t.Fatal(err)
	}

	posts, err := scrapeAll(t, crawler, models.ScrapeRequest{GroupURL: testGroupURL, TargetCount: 10, Headless: true})
	if err != nil {
		t.Fatalf("停滞不应视为错误: %v", err)
	}
	if diff := cmp.Diff([]string{"1001", "1002"}, ids(posts)); diff != "" {
		t.Errorf("产出不一致 (-want +got):\n%s", diff)
	}

	stats, calls, finishErr := rec.get()
	if calls != 1 || finishErr != nil {
		t.Errorf("OnFinish 调用 %d 次, err=%v", calls, finishErr)
	}
	if stats.StopReason != models.StopStalled {
		t.Errorf("终止原因 = %s, 期望 %s", stats.StopReason, models.StopStalled)
	}
	if stats.Stalls != 3 {
		t.Errorf("停滞次数 = %d, 期望 3", stats.Stalls)
	}
	// 一次有产出的周期加三次停滞周期
	if got := page.Calls(browser.ScriptExtractPosts.Name); got != 4 {
		t.Errorf("提取周期 = %d, 期望 4", got)
	}
	if !launcher.AllClosed() {
		t.Error("终止后浏览器应被关闭")
	}
}

func TestFeedCrawler_BoundedYield(t *testing.T) {
	var batch []browser.RawPost
	for i, id := range []string{"2001", "2002", "2003", "2004", "2005"} {
		batch = append(batch, rawPost("gh"+id, id, "post number "+id, "Author"+string(rune('A'+i))))
	}
	page := newReadyPage().Handle(browser.ScriptExtractPosts.Name, sequence(batch))
	rec := &finishRecorder{}
	crawler, err := NewFeedCrawler(newTestOptions(t, browsertest.NewLauncher(page), models.EngineRod, rec.hooks()))
	if err != nil {
		t.Fatal(err)
	}

	posts, err := scrapeAll(t, crawler, models.ScrapeRequest{GroupURL: testGroupURL, TargetCount: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 3 {
		t.Fatalf("产出 %d 条, 不应超过目标 3", len(posts))
	}
	stats, _, _ := rec.get()
	if stats.StopReason != models.StopTargetReached {
		t.Errorf("终止原因 = %s", stats.StopReason)
	}
	if page.Calls(browser.ScriptScrollBy.Name) != 0 {
		t.Error("达到目标后不应继续滚动")
	}
}

func TestFeedCrawler_Dedup(t *testing.T) {
	page := newReadyPage().Handle(browser.ScriptExtractPosts.Name, sequence(
		[]browser.RawPost{
			rawPost("gh1", "3001", "alpha text", "Alice"),
			rawPost("gh2", "3002", "beta text", "Bob"),
		},
		[]browser.RawPost{
			// 同一帖子在滚动窗口重叠时以新元素出现
			rawPost("gh3", "3001", "alpha text", "Alice"),
			rawPost("gh4", "3003", "gamma text", "Carol"),
		},
	))
	rec := &finishRecorder{}
	crawler, err := NewFeedCrawler(newTestOptions(t, browsertest.NewLauncher(page), models.EngineRod, rec.hooks()))
	if err != nil {
		t.Fatal(err)
	}

	posts, err := scrapeAll(t, crawler, models.ScrapeRequest{GroupURL: testGroupURL, TargetCount: 10})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"3001", "3002", "3003"}, ids(posts)); diff != "" {
		t.Errorf("产出不一致 (-want +got):\n%s", diff)
	}
	seen := make(map[string]bool)
	for _, p := range posts {
		if seen[p.ExternalID] {
			t.Errorf("ID %s 重复产出", p.ExternalID)
		}
		seen[p.ExternalID] = true
	}
	if stats, _, _ := rec.get(); stats.Duplicates != 1 {
		t.Errorf("去重计数 = %d, 期望 1", stats.Duplicates)
	}
}

func TestFeedCrawler_RecordFields(t *testing.T) {
	post := rawPost("gh1", "4001", "  hello\n\n  world  ", "Alice")
	post.Comments = []browser.RawComment{
		{ID: "https://www.facebook.com/groups/123456/posts/4001/?comment_id=55", Author: "Bob", Text: "nice", RawTimestamp: "1h"},
		{Author: "Empty"},
	}
	page := newReadyPage().Handle(browser.ScriptExtractPosts.Name, sequence([]browser.RawPost{post}))
	crawler, err := NewFeedCrawler(newTestOptions(t, browsertest.NewLauncher(page), models.EngineRod, Hooks{}))
	if err != nil {
		t.Fatal(err)
	}

	posts, err := scrapeAll(t, crawler, models.ScrapeRequest{GroupURL: testGroupURL, TargetCount: 1})
	if err != nil || len(posts) != 1 {
		t.Fatalf("posts=%d err=%v", len(posts), err)
	}
	got := posts[0]
	if got.Text != "hello\nworld" {
		t.Errorf("正文 = %q", got.Text)
	}
	if got.CanonicalURL != "https://www.facebook.com/groups/123456/posts/4001/" {
		t.Errorf("规范URL = %q", got.CanonicalURL)
	}
	if got.GeneratedID {
		t.Error("ID应从链接推导")
	}
	if got.PostedAt == nil || !got.PostedAt.Equal(fixedNow.Add(-2*time.Hour)) {
		t.Errorf("发布时间 = %v", got.PostedAt)
	}
	if len(got.Comments) != 1 || got.Comments[0].ExternalID != "55" || got.Comments[0].PostedAt == nil {
		t.Errorf("评论 = %+v", got.Comments)
	}
}

func TestFeedCrawler_FieldSubset(t *testing.T) {
	var withComments []bool
	page := newReadyPage().Handle(browser.ScriptExtractPosts.Name, func(args []interface{}) (interface{}, error) {
		cfg := args[0].(browser.ExtractConfig)
		withComments = append(withComments, cfg.WithComments)
		if len(withComments) == 1 {
			return []browser.RawPost{rawPost("gh1", "4101", "some text", "Alice")}, nil
		}
		return nil, nil
	})
	crawler, err := NewFeedCrawler(newTestOptions(t, browsertest.NewLauncher(page), models.EngineRod, Hooks{}))
	if err != nil {
		t.Fatal(err)
	}

	fields, _ := models.ParseFieldSet([]string{"text"})
	posts, err := scrapeAll(t, crawler, models.ScrapeRequest{GroupURL: testGroupURL, TargetCount: 1, Fields: fields})
	if err != nil || len(posts) != 1 {
		t.Fatalf("posts=%d err=%v", len(posts), err)
	}
	if posts[0].AuthorName != "" || posts[0].PostedAt != nil {
		t.Errorf("未请求的字段应被清空: %+v", posts[0])
	}
	if posts[0].ExternalID != "4101" {
		t.Error("ID始终保留")
	}
	if len(withComments) == 0 || withComments[0] {
		t.Error("未请求评论时不应提取评论")
	}
}

func TestFeedCrawler_SkipsEmptyAndPending(t *testing.T) {
	pending := browser.RawPost{Key: "gh1", Fresh: true, Pending: true}
	empty := browser.RawPost{Key: "gh2", Fresh: true}
	hydrated := rawPost("gh1", "5001", "now hydrated", "Alice")
	hydrated.Fresh = false

	page := newReadyPage().Handle(browser.ScriptExtractPosts.Name, sequence(
		[]browser.RawPost{pending, empty},
		[]browser.RawPost{hydrated},
	))
	rec := &finishRecorder{}
	crawler, err := NewFeedCrawler(newTestOptions(t, browsertest.NewLauncher(page), models.EngineRod, rec.hooks()))
	if err != nil {
		t.Fatal(err)
	}

	posts, err := scrapeAll(t, crawler, models.ScrapeRequest{GroupURL: testGroupURL, TargetCount: 5})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"5001"}, ids(posts)); diff != "" {
		t.Errorf("产出不一致 (-want +got):\n%s", diff)
	}
	if stats, _, _ := rec.get(); stats.Skipped != 1 {
		t.Errorf("跳过计数 = %d, 期望 1", stats.Skipped)
	}
}

func TestFeedCrawler_SingleUse(t *testing.T) {
	page := newReadyPage().Handle(browser.ScriptExtractPosts.Name, sequence([]browser.RawPost{
		rawPost("gh1", "6001", "text", "Alice"),
	}))
	crawler, err := NewFeedCrawler(newTestOptions(t, browsertest.NewLauncher(page), models.EngineRod, Hooks{}))
	if err != nil {
		t.Fatal(err)
	}

	seq := crawler.ScrapeGroup(context.Background(), models.ScrapeRequest{GroupURL: testGroupURL, TargetCount: 1})
	first := 0
	for _, err := range seq {
		if err == nil {
			first++
		}
	}
	if first != 1 {
		t.Fatalf("第一次遍历产出 %d 条", first)
	}

	var errs []error
	for _, err := range seq {
		errs = append(errs, err)
	}
	if len(errs) != 1 || !errors.Is(errs[0], models.ErrRunConsumed) {
		t.Errorf("第二次遍历应只得到ErrRunConsumed, 实际 %v", errs)
	}
}

func TestFeedCrawler_BreakClosesBrowser(t *testing.T) {
	page := newReadyPage().Handle(browser.ScriptExtractPosts.Name, sequence([]browser.RawPost{
		rawPost("gh1", "7001", "one", "Alice"),
		rawPost("gh2", "7002", "two", "Bob"),
	}))
	launcher := browsertest.NewLauncher(page)
	rec := &finishRecorder{}
	crawler, err := NewFeedCrawler(newTestOptions(t, launcher, models.EngineRod, rec.hooks()))
	if err != nil {
		t.Fatal(err)
	}

	for range crawler.ScrapeGroup(context.Background(), models.ScrapeRequest{GroupURL: testGroupURL, TargetCount: 10}) {
		break
	}
	if !launcher.AllClosed() {
		t.Error("提前结束遍历后浏览器应被关闭")
	}
	if stats, _, _ := rec.get(); stats.StopReason != models.StopAbandoned {
		t.Errorf("终止原因 = %s", stats.StopReason)
	}
}

func TestFeedCrawler_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *browsertest.Page)
		wantErr error
	}{
		{
			name: "内容等待超时且无产出",
			setup: func(p *browsertest.Page) {
				p.Return(browser.ScriptContentReady.Name, false)
			},
			wantErr: models.ErrContentTimeout,
		},
		{
			name: "页面操作panic",
			setup: func(p *browsertest.Page) {
				p.Handle(browser.ScriptExtractPosts.Name, func([]interface{}) (interface{}, error) {
					panic("target closed")
				})
			},
			wantErr: models.ErrBrowserCrashed,
		},
		{
			name: "连续脚本失败",
			setup: func(p *browsertest.Page) {
				p.Handle(browser.ScriptExtractPosts.Name, func([]interface{}) (interface{}, error) {
					return nil, errors.New("execution context was destroyed")
				})
			},
			wantErr: models.ErrBrowserCrashed,
		},
		{
			name: "导航失败",
			setup: func(p *browsertest.Page) {
				p.NavigateFunc = func(string) error { return errors.New("net::ERR_TIMED_OUT") }
			},
			wantErr: models.ErrMaxRetriesReached,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newReadyPage()
			tt.setup(page)
			launcher := browsertest.NewLauncher(page)
			crawler, err := NewFeedCrawler(newTestOptions(t, launcher, models.EngineRod, Hooks{}))
			if err != nil {
				t.Fatal(err)
			}

			posts, err := scrapeAll(t, crawler, models.ScrapeRequest{GroupURL: testGroupURL, TargetCount: 3})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("错误 = %v, 期望 %v", err, tt.wantErr)
			}
			if len(posts) != 0 {
				t.Errorf("不应有产出: %d", len(posts))
			}
			if !launcher.AllClosed() {
				t.Error("失败后浏览器应被关闭")
			}
		})
	}
}

func TestFeedCrawler_InvalidRequest(t *testing.T) {
	launcher := browsertest.NewLauncher(newReadyPage())
	crawler, err := NewFeedCrawler(newTestOptions(t, launcher, models.EngineRod, Hooks{}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = scrapeAll(t, crawler, models.ScrapeRequest{GroupURL: "https://www.facebook.com/marketplace/", TargetCount: 3})
	if !errors.Is(err, models.ErrInvalidRequest) {
		t.Errorf("期望ErrInvalidRequest, 得到 %v", err)
	}
	if len(launcher.Launches()) != 0 {
		t.Error("无效请求不应启动浏览器")
	}
}

func TestFeedCrawler_DiscussionFallbackAndSelfHeal(t *testing.T) {
	page := browsertest.NewPage().
		Return(browser.ScriptContentReady.Name, true).
		Return(browser.ScriptHasArticles.Name, false).
		Return(browser.ScriptDiscoverArticleSelectors.Name, []string{`div.x1yztbdb`, `div:not(`})
	var navigated []string
	page.NavigateFunc = func(u string) error {
		navigated = append(navigated, u)
		return nil
	}

	opts := newTestOptions(t, browsertest.NewLauncher(page), models.EngineRod, Hooks{})
	opts.Registry = selectors.New(t.TempDir() + "/learned.json")
	crawler, err := NewFeedCrawler(opts)
	if err != nil {
		t.Fatal(err)
	}

	// 裸小组链接会等待10秒再切换,这里直接使用讨论页以验证自愈
	_, err = scrapeAll(t, crawler, models.ScrapeRequest{GroupURL: "https://www.facebook.com/groups/123456/discussion/", TargetCount: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(navigated) != 1 {
		t.Errorf("非裸链接不应切换页面: %v", navigated)
	}

	found := false
	for _, sel := range opts.Registry.Candidates(selectors.Article) {
		if sel == `div.x1yztbdb` {
			found = true
		}
		if sel == `div:not(` {
			t.Error("无效选择器不应被学习")
		}
	}
	if !found {
		t.Error("应学习到页面中发现的文章选择器")
	}
	if page.Calls(browser.ScriptDiscoverArticleSelectors.Name) != 1 {
		t.Error("自愈只应触发一次")
	}
}

func TestDiscussionURL(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		wantBare bool
	}{
		{"https://www.facebook.com/groups/123456", "https://www.facebook.com/groups/123456/discussion/", true},
		{"https://www.facebook.com/groups/123456/?ref=share", "https://www.facebook.com/groups/123456/discussion/", true},
		{"https://www.facebook.com/groups/123456/discussion/", "", false},
		{"https://www.facebook.com/groups/123456/posts/1/", "", false},
	}
	for _, tt := range tests {
		got, bare := discussionURL(tt.in)
		if got != tt.want || bare != tt.wantBare {
			t.Errorf("discussionURL(%q) = %q,%v", tt.in, got, bare)
		}
	}
}
