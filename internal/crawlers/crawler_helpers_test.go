package crawlers

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/browser/browsertest"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/selectors"
	"github.com/RecoveryAshes/GroupHarvest/internal/timestamp"
)

const testGroupURL = "https://www.facebook.com/groups/123456/"

var fixedNow = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

// sequence 每次调用返回下一批结果,用完后返回零值
func sequence[T any](batches ...T) browsertest.Handler {
	var mu sync.Mutex
	i := 0
	return func([]interface{}) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(batches) {
			var zero T
			return zero, nil
		}
		b := batches[i]
		i++
		return b, nil
	}
}

func testScrapeConfig(engine models.Engine) models.ScrapeConfig {
	cfg := models.DefaultScrapeConfig()
	cfg.Engine = string(engine)
	cfg.PauseMin, cfg.PauseMax = 0, 0
	cfg.ContentTimeout = 100 * time.Millisecond
	cfg.NavigationTimeout = time.Second
	cfg.RetryBaseDelay = time.Millisecond
	cfg.DrainTimeout = 2 * time.Second
	return cfg
}

// newReadyPage 内容已就绪、存在文章元素的假页面
func newReadyPage() *browsertest.Page {
	return browsertest.NewPage().
		Return(browser.ScriptContentReady.Name, true).
		Return(browser.ScriptHasArticles.Name, true)
}

type finishRecorder struct {
	mu    sync.Mutex
	stats models.RunStats
	err   error
	calls int
}

func (f *finishRecorder) hooks() Hooks {
	return Hooks{OnFinish: func(stats models.RunStats, err error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stats, f.err = stats, err
		f.calls++
	}}
}

func (f *finishRecorder) get() (models.RunStats, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, f.calls, f.err
}

func newTestOptions(t *testing.T, launcher browser.Launcher, engine models.Engine, hooks Hooks) Options {
	t.Helper()
	return Options{
		Sessions:   LauncherProvider{Launcher: launcher},
		Registry:   selectors.New(""),
		Timestamps: timestamp.New(timestamp.WithClock(func() time.Time { return fixedNow })),
		Config:     testScrapeConfig(engine),
		Hooks:      hooks,
	}
}

func rawPost(key, postID, text, author string) browser.RawPost {
	return browser.RawPost{
		Key:          key,
		Fresh:        true,
		Text:         text,
		Author:       author,
		RawTimestamp: "2h",
		Hrefs:        []string{fmt.Sprintf("https://www.facebook.com/groups/123456/posts/%s/?__cft__[0]=x", postID)},
	}
}

func articleHTML(postID, author, text string) string {
	return fmt.Sprintf(`<div role="article">
		<h3><strong><a href="/user/1/">%s</a></strong></h3>
		<a href="https://www.facebook.com/groups/123456/posts/%s/">3d</a>
		<div data-ad-preview="message"><div>%s</div></div>
	</div>`, author, postID, text)
}

func captured(key, postID, author, text string) browser.CapturedArticle {
	return browser.CapturedArticle{
		Key:   key,
		Fresh: true,
		HTML:  articleHTML(postID, author, text),
		Hrefs: []string{fmt.Sprintf("https://www.facebook.com/groups/123456/posts/%s/", postID)},
	}
}
