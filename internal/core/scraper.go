package core

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"sync"
	"time"

	"github.com/RecoveryAshes/GroupHarvest/internal/crawlers"
	"github.com/RecoveryAshes/GroupHarvest/internal/identity"
	"github.com/RecoveryAshes/GroupHarvest/internal/metrics"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/selectors"
	"github.com/RecoveryAshes/GroupHarvest/internal/storage"
	"github.com/RecoveryAshes/GroupHarvest/internal/timestamp"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
	"github.com/schollz/progressbar/v3"
)

// GroupScraper 抓取引擎
type GroupScraper interface {
	ScrapeGroup(ctx context.Context, req models.ScrapeRequest) iter.Seq2[models.PostRecord, error]
}

// Deps 抓取服务的依赖
// Store 与 Metrics 可为nil
type Deps struct {
	Config     *Config
	Sessions   crawlers.ContextProvider
	Registry   *selectors.Registry
	Timestamps *timestamp.Normalizer
	Monitor    *crawlers.ResourceMonitor
	Store      *storage.SQLiteStore
	Metrics    *metrics.Recorder

	// Progress 是否在终端显示进度条
	Progress bool
}

// Scraper 抓取服务
// 负责选择引擎、消费帖子序列、写入JSONL与数据库并生成报告
type Scraper struct {
	deps Deps
}

// Outcome 一次抓取的结果
// 帖子已逐条写入JSONL与数据库,这里只保留ID
type Outcome struct {
	Task    *models.ScrapeTask
	PostIDs []string
	Stored  storage.ScrapeResult
	Report  *models.ScrapeReport
}

// NewScraper 创建抓取服务
func NewScraper(deps Deps) (*Scraper, error) {
	if deps.Config == nil {
		return nil, errors.New("缺少配置")
	}
	if deps.Sessions == nil {
		return nil, errors.New("缺少浏览器会话来源")
	}
	if deps.Registry == nil {
		deps.Registry = selectors.New(deps.Config.Selectors.LearnedPath)
	}
	if deps.Timestamps == nil {
		deps.Timestamps = timestamp.New()
	}
	return &Scraper{deps: deps}, nil
}

// Config 当前配置
func (s *Scraper) Config() *Config {
	return s.deps.Config
}

// newEngine 按配置创建引擎
func (s *Scraper) newEngine(engine models.Engine, opts crawlers.Options) (GroupScraper, error) {
	switch engine {
	case models.EngineRod:
		return crawlers.NewFeedCrawler(opts)
	case models.EnginePool:
		return crawlers.NewPoolCrawler(opts)
	default:
		return nil, fmt.Errorf("%w: 未知引擎 %q", models.ErrInvalidRequest, engine)
	}
}

// Scrape 执行一次抓取
// 执行流程:
//  1. 校验请求并创建任务
//  2. 遍历引擎产出的帖子序列,每条帖子立即写入JSONL与数据库
//  3. 生成抓取报告
//
// 运行出错或被取消时已产出的帖子已经入库,错误随结果一并返回
func (s *Scraper) Scrape(ctx context.Context, req models.ScrapeRequest, extra ...crawlers.Hooks) (*Outcome, error) {
	cfg := s.deps.Config
	if err := req.Validate(); err != nil {
		return nil, err
	}

	scrapeCfg := cfg.Scrape
	scrapeCfg.TargetCount = req.TargetCount
	engine := models.Engine(scrapeCfg.Engine)
	task, err := models.NewScrapeTask(req.GroupURL, engine, scrapeCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	var (
		mu    sync.Mutex
		stats models.RunStats
	)
	capture := crawlers.Hooks{OnFinish: func(st models.RunStats, _ error) {
		mu.Lock()
		defer mu.Unlock()
		stats = st
	}}

	crawler, err := s.newEngine(engine, crawlers.Options{
		Sessions:   s.deps.Sessions,
		Registry:   s.deps.Registry,
		Timestamps: s.deps.Timestamps,
		Config:     scrapeCfg,
		Hooks:      crawlers.Chain(append([]crawlers.Hooks{capture}, extra...)...),
		Monitor:    s.deps.Monitor,
	})
	if err != nil {
		return nil, err
	}

	groupKey := identity.GroupID(req.GroupURL)
	if groupKey == "" {
		groupKey = "unknown"
	}
	jsonl, err := s.openJSONL(groupKey, task.ID)
	if err != nil {
		return nil, err
	}

	runLog := utils.RunLogger(task.ID, groupKey)
	runLog.Info().Str("engine", string(engine)).Int("target", req.TargetCount).Msgf("🚀 开始抓取小组: %s", req.GroupURL)
	task.Status = models.TaskStatusRunning
	if s.deps.Metrics != nil {
		s.deps.Metrics.RunStarted()
	}

	// 取消后仍要保存已产出的帖子
	saveCtx := context.WithoutCancel(ctx)
	var (
		sink     *storage.GroupWriter
		storeErr error
	)
	if s.deps.Store != nil {
		if sink, err = s.deps.Store.ForGroup(saveCtx, req.GroupURL); err != nil {
			utils.Errorf("打开群组记录失败: %v", err)
			storeErr = fmt.Errorf("保存帖子失败: %w", err)
		}
	}

	postIDs := make([]string, 0, req.TargetCount)
	var runErr error
	bar := s.progressBar(req.TargetCount)
	for rec, err := range crawler.ScrapeGroup(ctx, req) {
		if err != nil {
			runErr = err
			break
		}
		postIDs = append(postIDs, rec.ExternalID)
		if sink != nil {
			added, err := sink.Add(saveCtx, rec)
			if err != nil {
				runLog.Warn().Err(err).Str("post", rec.ExternalID).Msg("写入数据库失败")
			} else if added && s.deps.Metrics != nil {
				s.deps.Metrics.PostsStored(1)
			}
		}
		if jsonl != nil {
			if err := jsonl.Write(rec); err != nil {
				runLog.Warn().Err(err).Str("post", rec.ExternalID).Msg("写入JSONL失败")
			}
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	if jsonl != nil {
		if err := jsonl.Close(); err != nil {
			utils.Warnf("关闭JSONL文件失败: %v", err)
		}
	}

	mu.Lock()
	runStats := stats
	mu.Unlock()
	task.Finish(runStats, runErr)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RunFinished(engine, runStats, runErr)
	}

	outcome := &Outcome{Task: task, PostIDs: postIDs}
	if sink != nil {
		outcome.Stored = sink.Result()
		utils.Infof("💾 %s", outcome.Stored)
	}
	if runErr == nil {
		runErr = storeErr
	}

	outcome.Report = s.buildReport(task, outcome.Stored.Added)
	reporter := utils.NewReporter(cfg.Output.BaseDir, groupKey)
	if err := reporter.GenerateReport(outcome.Report); err != nil {
		utils.Warnf("生成报告失败: %v", err)
	}

	runLog.Info().
		Int("duplicates", runStats.Duplicates).
		Int("skipped", runStats.Skipped).
		Str("stop_reason", string(runStats.StopReason)).
		Msgf("📊 产出 %d/%d", runStats.Yielded, req.TargetCount)
	return outcome, runErr
}

func (s *Scraper) openJSONL(groupKey, taskID string) (*storage.JSONLWriter, error) {
	dir := s.deps.Config.Storage.JSONLDir
	if dir == "" {
		return nil, nil
	}
	name := fmt.Sprintf("%s_%s_%s.jsonl", groupKey, time.Now().Format("20060102_150405"), taskID[:8])
	w, err := storage.NewJSONLWriter(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("创建JSONL文件失败: %w", err)
	}
	return w, nil
}

func (s *Scraper) progressBar(max int) *progressbar.ProgressBar {
	if !s.deps.Progress {
		return nil
	}
	return utils.NewProgressBar(max, "抓取帖子")
}

func (s *Scraper) buildReport(task *models.ScrapeTask, added int) *models.ScrapeReport {
	report := &models.ScrapeReport{
		TaskID:           task.ID,
		GroupURL:         task.GroupURL,
		Engine:           task.Engine,
		StartTime:        task.CreatedAt,
		Stats:            task.Stats,
		Status:           task.Status,
		Target:           task.Config.TargetCount,
		Added:            added,
		SelectorFailures: s.deps.Registry.Failures(),
		ErrorMessage:     task.ErrorMessage,
	}
	if task.CompletedAt != nil {
		report.EndTime = *task.CompletedAt
	}
	return report
}
