package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/schollz/progressbar/v3"
)

const (
	latestReportName    = "scrape_report.json"
	failuresReportName  = "selector_failures.json"
	historyReportName   = "history.jsonl"
	reportsSubdirectory = "reports"
)

// Reporter 按小组写入运行报告
//
//	<output>/<group>/reports/scrape_report.json     最近一次运行
//	<output>/<group>/reports/history.jsonl          每次运行追加一行
//	<output>/<group>/reports/selector_failures.json 选择器失败次数(有失败时)
type Reporter struct {
	dir string
}

// NewReporter 创建报告生成器,groupKey 为小组ID
func NewReporter(outputDir, groupKey string) *Reporter {
	return &Reporter{dir: filepath.Join(outputDir, groupKey, reportsSubdirectory)}
}

// ReportDir 报告目录
func (r *Reporter) ReportDir() string {
	return r.dir
}

// GenerateReport 补齐结束时间和耗时后写入报告
func (r *Reporter) GenerateReport(report *models.ScrapeReport) error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %w", err)
	}

	if report.EndTime.IsZero() {
		report.EndTime = time.Now()
	}
	if report.Duration == 0 && !report.StartTime.IsZero() {
		report.Duration = report.EndTime.Sub(report.StartTime).Seconds()
	}

	data, err := report.ToJSON()
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}
	if err := WriteFileAtomic(filepath.Join(r.dir, latestReportName), data, 0644); err != nil {
		return fmt.Errorf("写入报告失败: %w", err)
	}

	if len(report.SelectorFailures) > 0 {
		failures, err := json.MarshalIndent(report.SelectorFailures, "", "  ")
		if err != nil {
			return fmt.Errorf("序列化选择器失败统计失败: %w", err)
		}
		if err := WriteFileAtomic(filepath.Join(r.dir, failuresReportName), failures, 0644); err != nil {
			return fmt.Errorf("写入选择器失败统计失败: %w", err)
		}
	}

	if err := r.appendHistory(report); err != nil {
		Warnf("追加运行历史失败: %v", err)
	}

	Infof("✅ 报告已生成: %s", r.dir)
	return nil
}

// historyEntry 历史中只保留便于对比的字段
type historyEntry struct {
	TaskID     string            `json:"task_id"`
	Engine     models.Engine     `json:"engine"`
	EndTime    time.Time         `json:"end_time"`
	Status     models.TaskStatus `json:"status"`
	Target     int               `json:"target"`
	Yielded    int               `json:"yielded"`
	Added      int               `json:"added"`
	StopReason models.StopReason `json:"stop_reason"`
	Duration   float64           `json:"duration"`
}

func (r *Reporter) appendHistory(report *models.ScrapeReport) error {
	line, err := json.Marshal(historyEntry{
		TaskID:     report.TaskID,
		Engine:     report.Engine,
		EndTime:    report.EndTime,
		Status:     report.Status,
		Target:     report.Target,
		Yielded:    report.Stats.Yielded,
		Added:      report.Added,
		StopReason: report.Stats.StopReason,
		Duration:   report.Duration,
	})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(r.dir, historyReportName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// NewProgressBar 以帖子数为单位的进度条,输出到stderr
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("posts"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
