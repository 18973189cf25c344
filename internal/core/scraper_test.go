package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/browser/browsertest"
	"github.com/RecoveryAshes/GroupHarvest/internal/crawlers"
	"github.com/RecoveryAshes/GroupHarvest/internal/metrics"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/selectors"
	"github.com/RecoveryAshes/GroupHarvest/internal/storage"
	"github.com/RecoveryAshes/GroupHarvest/internal/timestamp"
)

const testGroupURL = "https://www.facebook.com/groups/123456/"

var fixedNow = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

func rawPost(postID string) browser.RawPost {
	return browser.RawPost{
		Key:          "k" + postID,
		Fresh:        true,
		Text:         "帖子内容 " + postID,
		Author:       "作者" + postID,
		RawTimestamp: "1h",
		Hrefs:        []string{fmt.Sprintf("https://www.facebook.com/groups/123456/posts/%s/", postID)},
	}
}

func batch(ids ...string) []browser.RawPost {
	out := make([]browser.RawPost, 0, len(ids))
	for _, id := range ids {
		out = append(out, rawPost(id))
	}
	return out
}

// perLaunch 每次启动浏览器后第一次提取返回对应批次,之后返回空
func perLaunch(launcher *browsertest.Launcher, batches ...[]browser.RawPost) browsertest.Handler {
	var mu sync.Mutex
	served := make(map[int]bool)
	return func([]interface{}) (interface{}, error) {
		n := len(launcher.Launches())
		mu.Lock()
		defer mu.Unlock()
		if served[n] || n == 0 || n > len(batches) {
			return []browser.RawPost{}, nil
		}
		served[n] = true
		return batches[n-1], nil
	}
}

type testEnv struct {
	scraper  *Scraper
	launcher *browsertest.Launcher
	page     *browsertest.Page
	store    *storage.SQLiteStore
	recorder *metrics.Recorder
	cfg      *Config
}

func newTestEnv(t *testing.T, batches ...[]browser.RawPost) *testEnv {
	t.Helper()

	scrapeCfg := models.DefaultScrapeConfig()
	scrapeCfg.PauseMin, scrapeCfg.PauseMax = 0, 0
	scrapeCfg.ContentTimeout = 100 * time.Millisecond
	scrapeCfg.NavigationTimeout = time.Second
	scrapeCfg.RetryBaseDelay = time.Millisecond

	cfg := &Config{
		Scrape:  scrapeCfg,
		Storage: StorageConfig{JSONLDir: filepath.Join(t.TempDir(), "jsonl")},
		Output:  OutputConfig{BaseDir: t.TempDir()},
	}

	page := browsertest.NewPage().
		Return(browser.ScriptContentReady.Name, true).
		Return(browser.ScriptHasArticles.Name, true)
	launcher := browsertest.NewLauncher(page)
	page.Handle(browser.ScriptExtractPosts.Name, perLaunch(launcher, batches...))

	store, err := storage.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	recorder := metrics.NewRecorder()
	scraper, err := NewScraper(Deps{
		Config:     cfg,
		Sessions:   crawlers.LauncherProvider{Launcher: launcher},
		Registry:   selectors.New(""),
		Timestamps: timestamp.New(timestamp.WithClock(func() time.Time { return fixedNow })),
		Store:      store,
		Metrics:    recorder,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{scraper: scraper, launcher: launcher, page: page, store: store, recorder: recorder, cfg: cfg}
}

func (e *testEnv) request(target int) models.ScrapeRequest {
	return models.ScrapeRequest{GroupURL: testGroupURL, TargetCount: target, Headless: true}
}

func metricsBody(t *testing.T, r *metrics.Recorder) string {
	t.Helper()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestScraper_Scrape(t *testing.T) {
	env := newTestEnv(t, batch("101", "102", "103"))

	outcome, err := env.scraper.Scrape(context.Background(), env.request(3))
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"101", "102", "103"}, outcome.PostIDs); diff != "" {
		t.Errorf("帖子不一致 (-want +got):\n%s", diff)
	}
	if outcome.Task.Status != models.TaskStatusCompleted {
		t.Errorf("status = %s", outcome.Task.Status)
	}
	if outcome.Task.Stats.StopReason != models.StopTargetReached {
		t.Errorf("stop_reason = %s", outcome.Task.Stats.StopReason)
	}
	if outcome.Stored.Scraped != 3 || outcome.Stored.Added != 3 {
		t.Errorf("stored = %+v", outcome.Stored)
	}
	if !env.launcher.AllClosed() {
		t.Error("浏览器未关闭")
	}

	t.Run("写入数据库", func(t *testing.T) {
		n, err := env.store.CountPosts(context.Background(), testGroupURL)
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Errorf("数据库帖子数 = %d", n)
		}
	})

	t.Run("写入JSONL", func(t *testing.T) {
		files, _ := filepath.Glob(filepath.Join(env.cfg.Storage.JSONLDir, "123456_*.jsonl"))
		if len(files) != 1 {
			t.Fatalf("期望1个JSONL文件, 实际 %v", files)
		}
		posts, err := storage.ReadJSONL(files[0])
		if err != nil {
			t.Fatal(err)
		}
		if len(posts) != 3 {
			t.Errorf("JSONL记录数 = %d", len(posts))
		}
	})

	t.Run("生成报告", func(t *testing.T) {
		path := filepath.Join(env.cfg.Output.BaseDir, "123456", "reports", "scrape_report.json")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		var report models.ScrapeReport
		if err := report.FromJSON(data); err != nil {
			t.Fatal(err)
		}
		if report.Added != 3 || report.Target != 3 || report.Engine != models.EngineRod {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("记录指标", func(t *testing.T) {
		body := metricsBody(t, env.recorder)
		for _, want := range []string{
			`groupharvest_posts_yielded_total{engine="rod"} 3`,
			`groupharvest_runs_total{engine="rod",stop_reason="target_reached"} 1`,
			`groupharvest_posts_stored_total 3`,
			`groupharvest_active_runs 0`,
		} {
			if !strings.Contains(body, want) {
				t.Errorf("指标缺少 %q", want)
			}
		}
	})
}

func TestScraper_Shortfall(t *testing.T) {
	env := newTestEnv(t, batch("201", "202"))

	outcome, err := env.scraper.Scrape(context.Background(), env.request(5))
	if err != nil {
		t.Fatal(err)
	}
	if len(outcome.PostIDs) != 2 {
		t.Errorf("帖子数 = %d", len(outcome.PostIDs))
	}
	if outcome.Task.Status != models.TaskStatusPartial {
		t.Errorf("status = %s, 期望 partial", outcome.Task.Status)
	}
	if outcome.Task.Stats.StopReason != models.StopStalled {
		t.Errorf("stop_reason = %s", outcome.Task.Stats.StopReason)
	}
}

func TestScraper_PersistsEachPost(t *testing.T) {
	tests := []struct {
		name   string
		cancel bool
	}{
		{"下一轮提取前已入库", false},
		{"取消后已产出的帖子仍在库中", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var (
				calls   int
				midRun  = -1
				countMu sync.Mutex
			)
			env.page.Handle(browser.ScriptExtractPosts.Name, func([]interface{}) (interface{}, error) {
				countMu.Lock()
				defer countMu.Unlock()
				calls++
				if calls == 1 {
					return batch("501", "502"), nil
				}
				if calls == 2 {
					n, err := env.store.CountPosts(context.Background(), testGroupURL)
					if err != nil {
						return nil, err
					}
					midRun = n
					if tt.cancel {
						cancel()
					}
				}
				return []browser.RawPost{}, nil
			})

			outcome, _ := env.scraper.Scrape(ctx, env.request(5))

			countMu.Lock()
			got := midRun
			countMu.Unlock()
			if got != 2 {
				t.Errorf("第二轮提取时库中帖子数 = %d, 期望 2", got)
			}
			n, err := env.store.CountPosts(context.Background(), testGroupURL)
			if err != nil {
				t.Fatal(err)
			}
			if n != 2 {
				t.Errorf("结束后库中帖子数 = %d, 期望 2", n)
			}
			if outcome == nil || outcome.Stored.Added != 2 {
				t.Fatalf("outcome = %+v", outcome)
			}
			if diff := cmp.Diff([]string{"501", "502"}, outcome.PostIDs); diff != "" {
				t.Errorf("帖子不一致 (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScraper_Failures(t *testing.T) {
	t.Run("无效请求", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.scraper.Scrape(context.Background(), models.ScrapeRequest{
			GroupURL:    "https://www.facebook.com/marketplace/",
			TargetCount: 3,
		})
		if !errors.Is(err, models.ErrInvalidRequest) {
			t.Errorf("期望 ErrInvalidRequest, 实际 %v", err)
		}
		if len(env.launcher.Launches()) != 0 {
			t.Error("无效请求不应启动浏览器")
		}
	})

	t.Run("浏览器启动失败", func(t *testing.T) {
		env := newTestEnv(t)
		env.launcher.LaunchErr = errors.New("no chrome")

		outcome, err := env.scraper.Scrape(context.Background(), env.request(3))
		if err == nil {
			t.Fatal("期望错误")
		}
		if outcome == nil || outcome.Task.Status != models.TaskStatusFailed {
			t.Fatalf("outcome = %+v", outcome)
		}
		if !strings.Contains(outcome.Report.ErrorMessage, "no chrome") {
			t.Errorf("报告缺少错误信息: %q", outcome.Report.ErrorMessage)
		}
		if body := metricsBody(t, env.recorder); !strings.Contains(body, `stop_reason="error"`) {
			t.Error("失败运行未计入指标")
		}
	})
}

func TestBatchScraper(t *testing.T) {
	bad := "https://www.facebook.com/marketplace/"

	t.Run("遇错继续", func(t *testing.T) {
		env := newTestEnv(t, batch("301", "302"))
		b := NewBatchScraper(env.scraper, 0, true)

		summary, err := b.ScrapeBatch(context.Background(), []string{bad, testGroupURL}, 2, nil)
		if err != nil {
			t.Fatal(err)
		}
		if summary.SuccessCount != 1 || summary.FailCount != 1 {
			t.Errorf("summary = %+v", summary)
		}
		if summary.TotalPosts != 2 || summary.TotalAdded != 2 {
			t.Errorf("posts=%d added=%d", summary.TotalPosts, summary.TotalAdded)
		}
	})

	t.Run("遇错停止", func(t *testing.T) {
		env := newTestEnv(t, batch("301"))
		b := NewBatchScraper(env.scraper, 0, false)

		summary, err := b.ScrapeBatch(context.Background(), []string{bad, testGroupURL}, 1, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(summary.Results) != 1 || summary.FailCount != 1 {
			t.Errorf("results = %+v", summary.Results)
		}
		if len(env.launcher.Launches()) != 0 {
			t.Error("中止后不应继续抓取")
		}
	})

	t.Run("等待超过截止时间", func(t *testing.T) {
		env := newTestEnv(t, batch("301"), batch("302"))
		b := NewBatchScraper(env.scraper, time.Hour, true)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		summary, err := b.ScrapeBatch(ctx, []string{testGroupURL, testGroupURL}, 1, nil)
		if err == nil {
			t.Error("期望限速等待失败")
		}
		if len(summary.Results) != 1 {
			t.Errorf("期望只处理1个小组, 实际 %d", len(summary.Results))
		}
	})
}

func TestStressRunner(t *testing.T) {
	env := newTestEnv(t,
		batch("401", "402"),
		batch("402", "403"),
		batch("404"),
	)
	dir := t.TempDir()
	runner := NewStressRunner(env.scraper, dir, 5)

	ledger, err := runner.Run(context.Background(), testGroupURL, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ledger.Reached() || ledger.Count() != 4 {
		t.Errorf("台账 = %d/%d", ledger.Count(), ledger.Goal)
	}
	if ledger.Runs != 3 {
		t.Errorf("运行次数 = %d, 期望 3", ledger.Runs)
	}

	// 第一次运行停滞时采集诊断信息
	if runner.Captures() != 1 {
		t.Errorf("诊断次数 = %d, 期望 1", runner.Captures())
	}
	for _, pattern := range []string{"diag_*.json", "diag_*.png", "diag_*.html"} {
		if files, _ := filepath.Glob(filepath.Join(dir, pattern)); len(files) != 1 {
			t.Errorf("%s: %v", pattern, files)
		}
	}

	saved, err := models.LoadSeenLedger(runner.LedgerPath(testGroupURL))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"401", "402", "403", "404"}, saved.IDs); diff != "" {
		t.Errorf("台账ID不一致 (-want +got):\n%s", diff)
	}

	t.Run("已达标时不再运行", func(t *testing.T) {
		launches := len(env.launcher.Launches())
		again, err := runner.Run(context.Background(), testGroupURL, 4, nil)
		if err != nil {
			t.Fatal(err)
		}
		if again.Count() != 4 {
			t.Errorf("count = %d", again.Count())
		}
		if got := len(env.launcher.Launches()); got != launches {
			t.Errorf("不应重新启动浏览器: %d -> %d", launches, got)
		}
	})
}
