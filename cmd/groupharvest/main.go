package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RecoveryAshes/GroupHarvest/internal/core"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string
	headers    []string

	// 运行参数
	engine      string
	headless    bool
	workers     int
	dbPath      string
	jsonlDir    string
	metricsAddr string
	outputDir   string

	// 抓取参数
	targetURL  string
	urlFile    string
	count      int
	fieldNames []string

	// 批量处理参数
	batchDelay      time.Duration
	continueOnError bool
)

// appConfig 在 PersistentPreRunE 中加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "groupharvest",
	Short: "社交网络小组信息流抓取工具",
	Long: `GroupHarvest - 基于浏览器的小组帖子抓取工具

  • 两种引擎: rod (页面内提取) 与 pool (chromedp + 解析工作池)
  • 加密保存登录会话,失效时转入手动登录
  • 自动清理遮罩、修剪DOM、自愈选择器
  • 帖子去重后写入SQLite与JSONL

示例:
  # 首次使用先登录
  groupharvest login

  # 抓取50条帖子
  groupharvest -u https://www.facebook.com/groups/123456789 -n 50

  # 使用解析工作池引擎,只保留正文和时间
  groupharvest -u https://www.facebook.com/groups/123456789 --engine pool --fields text,posted_at

  # 批量抓取并暴露指标
  groupharvest -f groups.txt --metrics-addr :9464

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		overrides := core.CLIOverrides{
			Engine:      engine,
			TargetCount: count,
			Workers:     workers,
			DBPath:      dbPath,
			JSONLDir:    jsonlDir,
			MetricsAddr: metricsAddr,
			OutputDir:   outputDir,
			LogLevel:    logLevel,
		}
		if cmd.Flags().Changed("headless") {
			overrides.Headless = &headless
		}
		config.MergeCLIFlags(overrides)

		if err := utils.InitLogger(config.LogConfig()); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		if verbose {
			utils.Info("详细模式已启用")
		}

		appConfig = config
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if targetURL == "" && urlFile == "" {
			return cmd.Help()
		}

		if err := ValidateFlags(targetURL, appConfig.Scrape.TargetCount, appConfig.Scrape.Engine, appConfig.Scrape.Workers); err != nil {
			return err
		}
		fields, err := models.ParseFieldSet(fieldNames)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		rt, err := core.NewRuntime(ctx, appConfig, headers, true)
		if err != nil {
			return err
		}
		defer func() {
			if err := rt.Close(); err != nil {
				utils.Warnf("释放资源失败: %v", err)
			}
		}()
		rt.ServeMetrics(ctx)

		scraper, err := rt.Scraper(!verbose)
		if err != nil {
			return err
		}

		if urlFile != "" {
			urls, err := utils.ReadURLsFromFile(urlFile)
			if err != nil {
				return fmt.Errorf("读取URL文件失败: %w", err)
			}
			batch := core.NewBatchScraper(scraper, batchDelay, continueOnError)
			if _, err := batch.ScrapeBatch(ctx, urls, appConfig.Scrape.TargetCount, fields); err != nil {
				return fmt.Errorf("批量抓取失败: %w", err)
			}
			utils.Info("✨ 批量抓取任务完成!")
			return nil
		}

		outcome, err := scraper.Scrape(ctx, models.ScrapeRequest{
			GroupURL:    targetURL,
			TargetCount: appConfig.Scrape.TargetCount,
			Headless:    appConfig.Scrape.Headless,
			Fields:      fields,
		})
		if outcome != nil {
			printOutcome(outcome)
		}
		if err != nil {
			return fmt.Errorf("抓取失败: %w", err)
		}
		utils.Info("✨ 抓取任务完成!")
		return nil
	},
}

func printOutcome(o *core.Outcome) {
	stats := o.Task.Stats
	fmt.Println("==================================================")
	fmt.Println("📊 抓取统计")
	fmt.Println("==================================================")
	fmt.Printf("✅ 产出帖子: %d/%d\n", stats.Yielded, o.Task.Config.TargetCount)
	fmt.Printf("💾 新入库: %d\n", o.Stored.Added)
	fmt.Printf("🔁 重复丢弃: %d\n", stats.Duplicates)
	fmt.Printf("⚠️  结构不完整: %d\n", stats.Skipped)
	fmt.Printf("📜 滚动次数: %d\n", stats.ScrollAttempts)
	fmt.Printf("🧹 清理遮罩: %d\n", stats.OverlaysDismissed)
	fmt.Printf("🏁 停止原因: %s\n", stats.StopReason)
	fmt.Printf("⏱️  总耗时: %.2f秒\n", stats.Duration)
	fmt.Println("==================================================")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("GroupHarvest %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	// 全局参数
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "配置文件路径")
	pf.BoolVarP(&verbose, "verbose", "v", false, "详细输出模式 (不显示进度条)")
	pf.StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	pf.StringArrayVarP(&headers, "header", "H", nil, "注入浏览器的HTTP头部,格式: 'Name: Value',可多次指定")
	pf.StringVar(&engine, "engine", "", "抓取引擎 (rod|pool)")
	pf.BoolVar(&headless, "headless", true, "无头浏览器模式")
	pf.IntVar(&workers, "workers", 0, "pool引擎的解析工作协程数")
	pf.StringVar(&dbPath, "db", "", "SQLite数据库路径")
	pf.StringVar(&jsonlDir, "jsonl", "", "JSONL导出目录")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus指标监听地址,如 :9464")
	pf.StringVarP(&outputDir, "output", "o", "", "报告输出目录")
	pf.IntVarP(&count, "count", "n", 0, "目标帖子数量")

	// 抓取参数
	rootCmd.Flags().StringVarP(&targetURL, "url", "u", "", "小组URL (必需,除非使用 --url-file)")
	rootCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含小组URL列表的文件路径")
	rootCmd.Flags().StringSliceVar(&fieldNames, "fields", nil, "只保留这些字段 (逗号分隔)")

	// 批量处理参数
	rootCmd.Flags().DurationVar(&batchDelay, "batch-delay", 30*time.Second, "批量处理时小组之间的最小间隔")
	rootCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "遇到错误继续处理")

	rootCmd.AddCommand(versionCmd, loginCmd, probeCmd, stressCmd, selectorsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "已中断")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
