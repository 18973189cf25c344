package crawlers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/identity"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/selectors"
	"github.com/RecoveryAshes/GroupHarvest/internal/timestamp"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
)

const (
	// 裸小组链接等待内容的时间,超时后切换到 /discussion
	bareGroupWait = 10 * time.Second
	contentPoll   = 500 * time.Millisecond
	// 自愈选择器在第几次滚动后触发
	selfHealAfterScrolls = 2
	// 连续多少次页面脚本失败视为浏览器崩溃
	maxEvalFailures = 3
)

// ContextProvider 提供已登录的浏览器会话
type ContextProvider interface {
	GetAuthenticatedContext(ctx context.Context, headless bool) (browser.Context, error)
}

// LauncherProvider 直接启动浏览器,不处理登录
type LauncherProvider struct {
	Launcher browser.Launcher
	Options  browser.LaunchOptions
}

// GetAuthenticatedContext 实现ContextProvider
func (p LauncherProvider) GetAuthenticatedContext(ctx context.Context, headless bool) (browser.Context, error) {
	opts := p.Options
	opts.Headless = headless
	return p.Launcher.Launch(ctx, opts)
}

// Options 抓取器的依赖
type Options struct {
	Sessions   ContextProvider
	Registry   *selectors.Registry
	Timestamps *timestamp.Normalizer
	Config     models.ScrapeConfig
	Hooks      Hooks
	Monitor    *ResourceMonitor // 可为nil
}

func (o *Options) normalize() error {
	if o.Sessions == nil {
		return errors.New("未配置浏览器会话来源")
	}
	if o.Registry == nil {
		o.Registry = selectors.New("")
	}
	if o.Timestamps == nil {
		o.Timestamps = timestamp.New()
	}
	if o.Config.Engine == "" {
		o.Config = models.DefaultScrapeConfig()
	}
	return o.Config.Validate()
}

// singleUse 包装成只能遍历一次的序列
func singleUse(run func(yield func(models.PostRecord, error) bool)) iter.Seq2[models.PostRecord, error] {
	var used atomic.Bool
	return func(yield func(models.PostRecord, error) bool) {
		if used.Swap(true) {
			yield(models.PostRecord{}, models.ErrRunConsumed)
			return
		}
		run(yield)
	}
}

// cycleFunc 一个提取周期: 返回可产出的记录和新发现的文章元素数
type cycleFunc func(ctx context.Context) ([]models.PostRecord, int, error)

// feedRun 一次抓取运行的驱动状态,只在驱动协程中使用
type feedRun struct {
	id        string
	req       models.ScrapeRequest
	cfg       models.ScrapeConfig
	groupID   string
	bctx      browser.Context
	page      browser.Page
	registry  *selectors.Registry
	times     *timestamp.Normalizer
	dismisser *OverlayDismisser
	hooks     Hooks
	monitor   *ResourceMonitor

	state       *models.ExtractionRun
	dedup       *identity.Deduper
	stats       models.RunStats
	lastPrune   int
	healed      bool
	evalFailure int
}

func startRun(ctx context.Context, opts Options, req models.ScrapeRequest) (*feedRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	bctx, err := opts.Sessions.GetAuthenticatedContext(ctx, req.Headless)
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	r := &feedRun{
		id:        uuid.New().String()[:8],
		req:       req,
		cfg:       cfg,
		groupID:   identity.GroupID(req.GroupURL),
		bctx:      bctx,
		page:      bctx.Page(),
		registry:  opts.Registry,
		times:     opts.Timestamps,
		dismisser: NewOverlayDismisser(opts.Registry),
		hooks:     opts.Hooks,
		monitor:   opts.Monitor,
		state:     models.NewExtractionRun(req.TargetCount, cfg.MaxScrollAttempts(req.TargetCount), cfg.StallThreshold),
		dedup:     identity.NewDeduper(),
	}
	log.Info().
		Str("run", r.id).
		Str("group", req.GroupURL).
		Int("target", req.TargetCount).
		Str("fields", req.Fields.String()).
		Msg("开始抓取小组")
	return r, nil
}

func (r *feedRun) close() {
	if err := r.bctx.Close(); err != nil {
		log.Debug().Err(err).Str("run", r.id).Msg("关闭浏览器失败")
	}
}

// guard 把浏览器操作中的panic转换为ErrBrowserCrashed
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			utils.Errorf("浏览器操作panic: %v", rec)
			err = fmt.Errorf("%w: %v", models.ErrBrowserCrashed, rec)
		}
	}()
	return fn()
}

// evalFailed 记录一次页面脚本失败,连续失败过多视为浏览器崩溃
func (r *feedRun) evalFailed(script string, err error) error {
	r.evalFailure++
	log.Warn().Err(err).Str("run", r.id).Str("script", script).Int("failures", r.evalFailure).Msg("页面脚本执行失败")
	if r.evalFailure >= maxEvalFailures {
		return fmt.Errorf("%w: 连续%d次脚本失败: %v", models.ErrBrowserCrashed, r.evalFailure, err)
	}
	return nil
}

// open 导航到小组讨论页
func (r *feedRun) open(ctx context.Context) error {
	target := r.req.GroupURL
	if err := browser.NavigateWithRetry(ctx, r.page, target, r.cfg.NavigationTimeout, r.cfg.RetryBaseDelay); err != nil {
		return err
	}
	log.Info().Str("run", r.id).Str("url", target).Msg("已打开小组页面")

	if discussion, bare := discussionURL(target); bare {
		if !r.waitArticles(ctx, bareGroupWait) {
			log.Info().Str("run", r.id).Str("url", discussion).Msg("未发现帖子,切换到讨论页")
			if err := browser.NavigateWithRetry(ctx, r.page, discussion, r.cfg.NavigationTimeout, r.cfg.RetryBaseDelay); err != nil {
				return err
			}
		}
	}

	var tab string
	if err := r.page.Eval(ctx, browser.ScriptDiscussionTab, &tab); err != nil {
		log.Debug().Err(err).Msg("检查讨论标签页失败")
	}
	switch tab {
	case "clicked":
		log.Info().Str("run", r.id).Msg("讨论标签页未选中,已点击")
		_ = browser.Sleep(ctx, r.cfg.PauseMin)
	case "selected":
		log.Debug().Str("run", r.id).Msg("讨论标签页已选中")
	}
	return nil
}

func (r *feedRun) waitArticles(ctx context.Context, timeout time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		var found bool
		if err := r.page.Eval(waitCtx, browser.ScriptHasArticles, &found, r.registry.Candidates(selectors.Article)); err == nil && found {
			return true
		}
		if browser.Sleep(waitCtx, contentPoll) != nil {
			return false
		}
	}
}

// awaitContent 等待真实内容出现(区别于骨架屏)
func (r *feedRun) awaitContent(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.ContentTimeout)
	defer cancel()

	articles := r.registry.Candidates(selectors.Article)
	for {
		var ready bool
		err := r.page.Eval(waitCtx, browser.ScriptContentReady, &ready, articles, r.cfg.MinContentLength)
		if err == nil && ready {
			return nil
		}
		if err := browser.Sleep(waitCtx, contentPoll); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v内未出现真实内容", models.ErrContentTimeout, r.cfg.ContentTimeout)
		}
	}
}

func (r *feedRun) dismissOverlays(ctx context.Context) {
	if report := r.dismisser.Dismiss(ctx, r.page); report.Dismissed() {
		r.stats.OverlaysDismissed++
		log.Info().Str("run", r.id).Str("selector", report.Clicked).Int("removed", report.Removed).Msg("已清理遮罩")
	}
}

// drive 执行状态机主循环,直到满足终止条件
// 返回时 stats.StopReason 已设置; 调用方放弃迭代时返回 false
func (r *feedRun) drive(ctx context.Context, yield func(models.PostRecord, error) bool, cycle cycleFunc) (bool, error) {
	for {
		if reason := r.state.StopReason(); reason != models.StopNone {
			r.stats.StopReason = reason
			log.Info().Str("run", r.id).Str("reason", string(reason)).Msg("满足终止条件")
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return true, err
		}

		if err := r.awaitContent(ctx); err != nil {
			if errors.Is(err, models.ErrContentTimeout) && r.state.YieldedCount > 0 {
				log.Warn().Str("run", r.id).Msg("等待内容超时,结束本次抓取")
				r.stats.StopReason = models.StopContentTimeout
				return true, nil
			}
			return true, err
		}

		var (
			records     []models.PostRecord
			newElements int
		)
		err := guard(func() error {
			r.dismissOverlays(ctx)
			var err error
			records, newElements, err = cycle(ctx)
			return err
		})
		if err != nil {
			return true, err
		}

		for _, rec := range records {
			if !r.emit(rec, yield) {
				return false, nil
			}
		}
		r.hooks.afterExtract(ctx, r.page, r.info(newElements))

		if r.state.StopReason() == models.StopTargetReached {
			continue
		}

		if err := guard(func() error {
			r.maybePrune(ctx)
			r.selfHeal(ctx)
			r.scroll(ctx)
			return nil
		}); err != nil {
			return true, err
		}
		r.observe(ctx, newElements)
	}
}

// emit 产出一条记录,目标已满时丢弃
func (r *feedRun) emit(rec models.PostRecord, yield func(models.PostRecord, error) bool) bool {
	if r.state.Remaining() == 0 {
		return true
	}
	r.req.Fields.Apply(&rec)
	r.state.RecordYield()
	r.stats.Yielded++
	log.Debug().
		Str("run", r.id).
		Str("id", rec.ExternalID).
		Int("yielded", r.state.YieldedCount).
		Int("target", r.state.TargetCount).
		Msg("产出帖子")
	if !yield(rec, nil) {
		r.stats.StopReason = models.StopAbandoned
		log.Info().Str("run", r.id).Msg("调用方停止迭代")
		return false
	}
	return true
}

func (r *feedRun) info(newElements int) StepInfo {
	return StepInfo{
		RunID:         r.id,
		GroupURL:      r.req.GroupURL,
		ScrollAttempt: r.state.ScrollAttempt,
		Yielded:       r.state.YieldedCount,
		NewElements:   newElements,
		StallCount:    r.state.ConsecutiveStallCount,
	}
}

// maybePrune 每产出N条帖子修剪一次已处理的DOM节点
func (r *feedRun) maybePrune(ctx context.Context) {
	every, keep := r.cfg.PruneEvery, r.cfg.PruneKeep
	if r.monitor != nil {
		every, keep = r.monitor.PruneEvery(every), r.monitor.PruneKeep(keep)
	}
	if r.state.YieldedCount-r.lastPrune < every {
		return
	}
	r.lastPrune = r.state.YieldedCount

	var removed int
	if err := r.page.Eval(ctx, browser.ScriptPruneDone, &removed, keep); err != nil {
		log.Debug().Err(err).Msg("修剪DOM失败")
		return
	}
	r.stats.Pruned += removed
	log.Debug().Str("run", r.id).Int("removed", removed).Int("keep", keep).Msg("已修剪DOM")
}

// selfHeal 滚动多次仍没有文章元素时,在页面中寻找新的文章选择器
func (r *feedRun) selfHeal(ctx context.Context) {
	if r.healed || r.state.ScrollAttempt < selfHealAfterScrolls || r.state.ProcessedCount() > 0 {
		return
	}
	r.healed = true

	var found bool
	if err := r.page.Eval(ctx, browser.ScriptHasArticles, &found, r.registry.Candidates(selectors.Article)); err != nil || found {
		return
	}

	var discovered []string
	if err := r.page.Eval(ctx, browser.ScriptDiscoverArticleSelectors, &discovered); err != nil {
		log.Debug().Err(err).Msg("发现文章选择器失败")
		return
	}
	for _, sel := range discovered {
		added, err := r.registry.RecordSuccess(selectors.Article, sel)
		if err != nil {
			log.Debug().Err(err).Str("selector", sel).Msg("忽略无效的候选选择器")
			continue
		}
		if added {
			log.Info().Str("selector", sel).Msg("🔧 学习到新的文章选择器")
		}
	}
	if len(discovered) == 0 {
		log.Warn().Str("run", r.id).Msg("页面中没有找到任何文章元素")
	}
}

// scroll 随机步长滚动并随机停顿
func (r *feedRun) scroll(ctx context.Context) {
	r.hooks.beforeScroll(ctx, r.page, r.info(0))

	px := randBetween(r.cfg.ScrollMinPx, r.cfg.ScrollMaxPx)
	var pos browser.ScrollResult
	if err := r.page.Eval(ctx, browser.ScriptScrollBy, &pos, px); err != nil {
		log.Debug().Err(err).Msg("滚动失败")
	}
	r.state.RecordScroll()
	r.stats.ScrollAttempts++
	log.Debug().
		Str("run", r.id).
		Int("attempt", r.state.ScrollAttempt).
		Int("max", r.state.MaxScrollAttempts).
		Int("px", px).
		Int("y", pos.Y).
		Msg("滚动")

	_ = browser.Sleep(ctx, randDuration(r.cfg.PauseMin, r.cfg.PauseMax))
}

func (r *feedRun) observe(ctx context.Context, newElements int) {
	if !r.state.ObserveCycle(newElements) {
		return
	}
	r.stats.Stalls++
	log.Info().
		Str("run", r.id).
		Int("stall", r.state.ConsecutiveStallCount).
		Int("threshold", r.state.StallThreshold).
		Msg("滚动后没有新的帖子")
	r.hooks.onStall(ctx, r.page, r.info(0))
}

// finish 汇总统计,未达目标时记录警告
func (r *feedRun) finish(err error) models.RunStats {
	r.stats.Duration = time.Since(r.state.StartedAt).Seconds()
	switch {
	case err != nil:
		log.Error().Err(err).Str("run", r.id).Int("yielded", r.stats.Yielded).Msg("抓取失败")
	case r.stats.Yielded < r.state.TargetCount && r.stats.StopReason != models.StopAbandoned:
		log.Warn().
			Str("run", r.id).
			Int("yielded", r.stats.Yielded).
			Int("target", r.state.TargetCount).
			Int("shortfall", r.state.TargetCount-r.stats.Yielded).
			Str("reason", string(r.stats.StopReason)).
			Msg("⚠️ 未达到目标数量")
	default:
		log.Info().
			Str("run", r.id).
			Int("yielded", r.stats.Yielded).
			Int("duplicates", r.stats.Duplicates).
			Int("skipped", r.stats.Skipped).
			Float64("duration", r.stats.Duration).
			Msg("✅ 抓取完成")
	}
	r.hooks.onFinish(r.stats, err)
	return r.stats
}

// extractConfig 由注册表生成页面提取配置
func (r *feedRun) extractConfig() browser.ExtractConfig {
	reg := r.registry
	return browser.ExtractConfig{
		Article:          reg.Candidates(selectors.Article),
		FeedContainer:    reg.Candidates(selectors.FeedContainer),
		Content:          reg.Candidates(selectors.Content),
		Author:           reg.Candidates(selectors.Author),
		AuthorPic:        reg.Candidates(selectors.AuthorPic),
		Timestamp:        reg.Candidates(selectors.Timestamp),
		Permalink:        reg.Candidates(selectors.Permalink),
		PostImage:        reg.Candidates(selectors.PostImage),
		CommentContainer: reg.Candidates(selectors.CommentContainer),
		CommentText:      reg.Candidates(selectors.CommentText),
		CommentAuthor:    reg.Candidates(selectors.CommentAuthor),
		CommentID:        reg.Candidates(selectors.CommentID),
		SeeMore:          reg.Candidates(selectors.SeeMore),
		WithComments:     r.req.Fields.Has(models.FieldComments),
		MaxComments:      50,
		MaxTries:         3,
		MinContentLength: r.cfg.MinContentLength,
		Max:              20,
		ExpandWaitMs:     300,
	}
}

// recordMissing 记录提取中没有命中的元素类型
func (r *feedRun) recordMissing(missing []string) {
	for _, elementType := range missing {
		// 很多帖子本来就没有配图
		if elementType == selectors.PostImage {
			continue
		}
		for _, sel := range r.registry.Candidates(elementType) {
			r.registry.RecordFailure(elementType, sel)
		}
	}
}

// discussionURL 裸小组链接返回其讨论页地址
func discussionURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "groups" {
		return "", false
	}
	u.Path = "/groups/" + parts[1] + "/discussion/"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), true
}

func randBetween(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1)
}

func randDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
