package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/crawlers"
	"github.com/RecoveryAshes/GroupHarvest/internal/identity"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
)

const (
	// DefaultStressRuns 压力测试最多重启的次数
	DefaultStressRuns = 5
	// 连续多少个空周期后采集诊断信息
	diagnosticsAfterStalls = 3
)

// Diagnostics 停滞时采集的页面诊断信息
type Diagnostics struct {
	RunID         string    `json:"run_id"`
	GroupURL      string    `json:"group_url"`
	CapturedAt    time.Time `json:"captured_at"`
	ScrollAttempt int       `json:"scroll_attempt"`
	Yielded       int       `json:"yielded"`
	StallCount    int       `json:"stall_count"`
	Articles      int       `json:"articles"`
	FeedPresent   bool      `json:"feed_present"`
	ScrollY       int       `json:"scroll_y"`
	ScrollHeight  int       `json:"scroll_height"`
	Console       []string  `json:"console"`
	Screenshot    string    `json:"screenshot,omitempty"`
	HTML          string    `json:"html,omitempty"`
}

// StressRunner 反复重启抓取直到累计足够多的唯一帖子
// 已见ID保存在台账中,中断后可继续
type StressRunner struct {
	scraper  *Scraper
	dir      string
	maxRuns  int
	captures atomic.Int32
}

// NewStressRunner 创建压力测试器,台账与诊断文件写入dir
func NewStressRunner(scraper *Scraper, dir string, maxRuns int) *StressRunner {
	if maxRuns <= 0 {
		maxRuns = DefaultStressRuns
	}
	return &StressRunner{scraper: scraper, dir: dir, maxRuns: maxRuns}
}

// Captures 已采集的诊断次数
func (s *StressRunner) Captures() int {
	return int(s.captures.Load())
}

// LedgerPath 某个小组的台账路径
func (s *StressRunner) LedgerPath(groupURL string) string {
	key := identity.GroupID(groupURL)
	if key == "" {
		key = "unknown"
	}
	return filepath.Join(s.dir, models.LedgerFilename(key))
}

// Run 执行压力测试
func (s *StressRunner) Run(ctx context.Context, groupURL string, goal int, fields models.FieldSet) (*models.SeenLedger, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("创建目录失败: %w", err)
	}
	path := s.LedgerPath(groupURL)
	ledger := s.loadLedger(path, groupURL, goal)

	for run := 1; run <= s.maxRuns && !ledger.Reached(); run++ {
		remaining := ledger.Goal - ledger.Count()
		utils.Infof("🔁 第 %d/%d 次运行: 已有 %d 个唯一帖子, 目标 %d", run, s.maxRuns, ledger.Count(), ledger.Goal)

		outcome, err := s.scraper.Scrape(ctx, models.ScrapeRequest{
			GroupURL:    groupURL,
			TargetCount: remaining,
			Headless:    s.scraper.Config().Scrape.Headless,
			Fields:      fields,
		}, s.diagnosticsHooks())

		fresh := 0
		if outcome != nil {
			for _, id := range outcome.PostIDs {
				if ledger.Add(id) {
					fresh++
				}
			}
		}
		ledger.Runs++
		if saveErr := ledger.SaveToFile(path); saveErr != nil {
			utils.Warnf("保存台账失败: %v", saveErr)
		}
		utils.Infof("本次运行结束: 新增 %d 个唯一帖子, 累计 %d", fresh, ledger.Count())

		if err != nil {
			if ctx.Err() != nil {
				return ledger, ctx.Err()
			}
			if errors.Is(err, models.ErrInvalidRequest) {
				return ledger, err
			}
			utils.Warnf("本次运行失败,重新启动: %v", err)
		}
	}

	if ledger.Reached() {
		utils.Infof("✅ 压力测试达标: %d/%d", ledger.Count(), ledger.Goal)
	} else {
		utils.Warnf("⚠️ %d 次运行后仍未达标: %d/%d", s.maxRuns, ledger.Count(), ledger.Goal)
	}
	return ledger, nil
}

// loadLedger 读取同一小组的旧台账,不存在或不匹配时新建
func (s *StressRunner) loadLedger(path, groupURL string, goal int) *models.SeenLedger {
	ledger, err := models.LoadSeenLedger(path)
	if err != nil || ledger.GroupURL != groupURL {
		return models.NewSeenLedger(groupURL, goal)
	}
	ledger.Goal = goal
	utils.Infof("📂 继续已有台账: %d 个唯一帖子", ledger.Count())
	return ledger
}

// diagnosticsHooks 连续空周期达到阈值时采集诊断信息
func (s *StressRunner) diagnosticsHooks() crawlers.Hooks {
	return crawlers.Hooks{
		OnStall: func(ctx context.Context, page browser.Page, info crawlers.StepInfo) {
			if info.StallCount != diagnosticsAfterStalls {
				return
			}
			if err := s.capture(ctx, page, info); err != nil {
				utils.Warnf("采集诊断信息失败 [%s]: %v", info.RunID, err)
			}
		},
	}
}

func (s *StressRunner) capture(ctx context.Context, page browser.Page, info crawlers.StepInfo) error {
	base := filepath.Join(s.dir, fmt.Sprintf("diag_%s_%03d", info.RunID, info.ScrollAttempt))
	diag := Diagnostics{
		RunID:         info.RunID,
		GroupURL:      info.GroupURL,
		CapturedAt:    time.Now(),
		ScrollAttempt: info.ScrollAttempt,
		Yielded:       info.Yielded,
		StallCount:    info.StallCount,
		Console:       page.ConsoleLines(),
	}

	var stats browser.FeedStats
	if err := page.Eval(ctx, browser.ScriptFeedStats, &stats); err != nil {
		utils.Debugf("读取信息流统计失败: %v", err)
	} else {
		diag.Articles = stats.Articles
		diag.FeedPresent = stats.FeedPresent
		diag.ScrollY = stats.ScrollY
		diag.ScrollHeight = stats.ScrollHeight
	}

	if png, err := page.Screenshot(ctx); err == nil {
		if err := utils.WriteFileAtomic(base+".png", png, 0644); err == nil {
			diag.Screenshot = filepath.Base(base + ".png")
		}
	}
	if html, err := page.HTML(ctx); err == nil {
		if err := utils.WriteFileAtomic(base+".html", []byte(html), 0644); err == nil {
			diag.HTML = filepath.Base(base + ".html")
		}
	}

	data, err := json.MarshalIndent(diag, "", "  ")
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(base+".json", data, 0644); err != nil {
		return err
	}
	s.captures.Add(1)
	utils.Infof("📸 已采集停滞诊断信息: %d 篇文章, 文件 %s", diag.Articles, base+".json")
	return nil
}
