package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/RecoveryAshes/GroupHarvest/internal/core"
	"github.com/RecoveryAshes/GroupHarvest/internal/crawlers"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/selectors"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
	"github.com/spf13/cobra"
)

var (
	probeURL     string
	probeTimeout time.Duration

	stressURL  string
	stressGoal int
	stressRuns int
	stressDir  string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "打开可见浏览器手动登录并保存会话",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := core.NewRuntime(ctx, appConfig, headers, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		bctx, err := rt.Sessions.ManualLogin(ctx)
		if err != nil {
			return fmt.Errorf("登录失败: %w", err)
		}
		if err := bctx.Close(); err != nil {
			utils.Warnf("关闭浏览器失败: %v", err)
		}
		fmt.Printf("✅ 会话已保存: %s\n", appConfig.Session.StatePath)
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "不启动浏览器,检查小组页面是否可访问",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := models.ValidateGroupURL(probeURL); err != nil {
			return fmt.Errorf("无效的小组URL: %w", err)
		}
		rt, err := core.NewRuntime(cmd.Context(), appConfig, headers, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		result, err := crawlers.NewGroupProbe(probeTimeout, rt.Headers, rt.SavedCookies()).Probe(probeURL)
		if err != nil {
			return fmt.Errorf("预检失败: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "多次运行直到累计抓到目标数量的不重复帖子",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := models.ValidateGroupURL(stressURL); err != nil {
			return fmt.Errorf("无效的小组URL: %w", err)
		}
		if err := ValidateGoal(stressGoal, stressRuns); err != nil {
			return err
		}

		ctx := cmd.Context()
		rt, err := core.NewRuntime(ctx, appConfig, headers, true)
		if err != nil {
			return err
		}
		defer rt.Close()
		rt.ServeMetrics(ctx)

		scraper, err := rt.Scraper(false)
		if err != nil {
			return err
		}
		runner := core.NewStressRunner(scraper, stressDir, stressRuns)
		ledger, err := runner.Run(ctx, stressURL, stressGoal, nil)
		if ledger != nil {
			fmt.Printf("📊 累计不重复帖子: %d/%d (运行 %d 次, 诊断快照 %d 份)\n",
				ledger.Count(), ledger.Goal, ledger.Runs, runner.Captures())
			fmt.Printf("📁 记录文件: %s\n", runner.LedgerPath(stressURL))
		}
		return err
	},
}

var selectorsCmd = &cobra.Command{
	Use:   "selectors",
	Short: "列出当前生效的候选选择器(含学习结果)",
	Run: func(cmd *cobra.Command, args []string) {
		registry := selectors.New(appConfig.Selectors.LearnedPath)
		registry.Load()
		for _, elementType := range registry.Types() {
			fmt.Printf("%s:\n", elementType)
			for i, sel := range registry.Candidates(elementType) {
				fmt.Printf("  %2d. %s\n", i+1, sel)
			}
		}
		if path := registry.Path(); path != "" {
			fmt.Println(strings.Repeat("-", 50))
			fmt.Printf("学习文件: %s\n", path)
		}
	},
}

func init() {
	probeCmd.Flags().StringVarP(&probeURL, "url", "u", "", "小组URL")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "请求超时")
	_ = probeCmd.MarkFlagRequired("url")

	stressCmd.Flags().StringVarP(&stressURL, "url", "u", "", "小组URL")
	stressCmd.Flags().IntVar(&stressGoal, "goal", 100, "累计不重复帖子目标")
	stressCmd.Flags().IntVar(&stressRuns, "runs", core.DefaultStressRuns, "最多运行次数")
	stressCmd.Flags().StringVar(&stressDir, "dir", "output/stress", "记录与诊断快照目录")
	_ = stressCmd.MarkFlagRequired("url")
}
