package core

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
)

// BatchScraper 批量抓取多个小组
// 小组之间用令牌桶控制节奏,避免短时间内连续打开多个会话
type BatchScraper struct {
	scraper       *Scraper
	limiter       *rate.Limiter
	continueOnErr bool
}

// BatchResult 单个小组的结果
type BatchResult struct {
	URL         string
	Success     bool
	Error       error
	Stats       models.RunStats
	Added       int
	ProcessedAt time.Time
	Duration    float64
}

// BatchSummary 批量抓取摘要
type BatchSummary struct {
	TotalURLs     int
	SuccessCount  int
	FailCount     int
	TotalPosts    int
	TotalAdded    int
	TotalDuration float64
	Results       []BatchResult
}

// NewBatchScraper 创建批量抓取器
// delay 为两个小组之间的最小间隔, 0 表示不限速
func NewBatchScraper(scraper *Scraper, delay time.Duration, continueOnErr bool) *BatchScraper {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &BatchScraper{
		scraper:       scraper,
		limiter:       rate.NewLimiter(limit, 1),
		continueOnErr: continueOnErr,
	}
}

// ScrapeBatch 依次抓取URL列表
func (b *BatchScraper) ScrapeBatch(ctx context.Context, urls []string, targetCount int, fields models.FieldSet) (*BatchSummary, error) {
	utils.Infof("🚀 开始批量抓取: %d个小组", len(urls))

	summary := &BatchSummary{
		TotalURLs: len(urls),
		Results:   make([]BatchResult, 0, len(urls)),
	}
	start := time.Now()

	for i, groupURL := range urls {
		if err := b.limiter.Wait(ctx); err != nil {
			summary.TotalDuration = time.Since(start).Seconds()
			b.printSummary(summary)
			return summary, err
		}

		utils.Infof("==================== [%d/%d] ====================", i+1, len(urls))
		result := b.scrapeOne(ctx, groupURL, targetCount, fields)
		summary.Results = append(summary.Results, result)

		if result.Success {
			summary.SuccessCount++
			summary.TotalPosts += result.Stats.Yielded
			summary.TotalAdded += result.Added
			continue
		}

		summary.FailCount++
		utils.Errorf("❌ 抓取失败: %v", result.Error)
		if ctx.Err() != nil {
			break
		}
		if !b.continueOnErr {
			utils.Warn("批量抓取中止 (--continue-on-error=false)")
			break
		}
	}

	summary.TotalDuration = time.Since(start).Seconds()
	b.printSummary(summary)
	return summary, ctx.Err()
}

func (b *BatchScraper) scrapeOne(ctx context.Context, groupURL string, targetCount int, fields models.FieldSet) BatchResult {
	result := BatchResult{URL: groupURL, ProcessedAt: time.Now()}

	outcome, err := b.scraper.Scrape(ctx, models.ScrapeRequest{
		GroupURL:    groupURL,
		TargetCount: targetCount,
		Headless:    b.scraper.Config().Scrape.Headless,
		Fields:      fields,
	})
	result.Duration = time.Since(result.ProcessedAt).Seconds()
	if outcome != nil {
		result.Stats = outcome.Task.Stats
		result.Added = outcome.Stored.Added
	}
	if err != nil {
		result.Error = err
		return result
	}
	result.Success = true
	return result
}

// printSummary 打印批量抓取摘要
func (b *BatchScraper) printSummary(summary *BatchSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量抓取摘要")
	utils.Info("==================================================")
	utils.Infof("总小组数: %d", summary.TotalURLs)
	utils.Infof("✅ 成功: %d", summary.SuccessCount)
	utils.Infof("❌ 失败: %d", summary.FailCount)
	utils.Infof("📝 产出帖子: %d", summary.TotalPosts)
	utils.Infof("💾 新入库: %d", summary.TotalAdded)
	utils.Infof("⏱️  总耗时: %.2f秒", summary.TotalDuration)
	utils.Info("==================================================")

	if summary.FailCount > 0 {
		utils.Warn("失败的小组:")
		for _, result := range summary.Results {
			if !result.Success {
				utils.Warnf("  - %s: %v", result.URL, result.Error)
			}
		}
	}
}
