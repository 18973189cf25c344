package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("配置文件覆盖默认值", func(t *testing.T) {
		path := writeConfig(t, `
scrape:
  engine: pool
  target_count: 25
  pause_min: 500ms
  pause_max: 1s
browser:
  headers:
    Accept-Language: zh-CN
storage:
  jsonl_dir: out/jsonl
metrics:
  enabled: true
  addr: 127.0.0.1:9000
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Scrape.Engine != string(models.EnginePool) || cfg.Scrape.TargetCount != 25 {
			t.Errorf("scrape = %+v", cfg.Scrape)
		}
		if cfg.Scrape.PauseMin != 500*time.Millisecond || cfg.Scrape.PauseMax != time.Second {
			t.Errorf("停顿时间 = %v-%v", cfg.Scrape.PauseMin, cfg.Scrape.PauseMax)
		}
		// 未配置的键保持默认值
		if cfg.Scrape.Workers != 5 || cfg.Scrape.StallThreshold != 3 {
			t.Errorf("默认值丢失: workers=%d stall=%d", cfg.Scrape.Workers, cfg.Scrape.StallThreshold)
		}
		if cfg.Browser.UserAgent != browser.DefaultUserAgent {
			t.Errorf("user_agent = %q", cfg.Browser.UserAgent)
		}
		if got := cfg.Browser.Headers["accept-language"]; got != "zh-CN" {
			t.Errorf("headers = %v", cfg.Browser.Headers)
		}
		if !cfg.Metrics.Enabled || cfg.Metrics.Addr != "127.0.0.1:9000" {
			t.Errorf("metrics = %+v", cfg.Metrics)
		}
		if err := cfg.Scrape.Validate(); err != nil {
			t.Errorf("合并后的配置应有效: %v", err)
		}
	})

	t.Run("环境变量覆盖", func(t *testing.T) {
		path := writeConfig(t, "scrape:\n  target_count: 25\n")
		t.Setenv("GROUPHARVEST_SCRAPE_TARGET_COUNT", "42")
		t.Setenv("GROUPHARVEST_LOGGING_LEVEL", "debug")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Scrape.TargetCount != 42 {
			t.Errorf("target_count = %d, 期望 42", cfg.Scrape.TargetCount)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("logging.level = %q", cfg.Logging.Level)
		}
	})

	t.Run("没有配置文件时使用默认值", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("HOME", t.TempDir())

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(models.DefaultScrapeConfig(), cfg.Scrape); diff != "" {
			t.Errorf("默认抓取配置不一致 (-want +got):\n%s", diff)
		}
		if cfg.Output.BaseDir != "output" || cfg.Logging.LogDir != "logs" {
			t.Errorf("output=%q log_dir=%q", cfg.Output.BaseDir, cfg.Logging.LogDir)
		}
	})

	t.Run("指定的文件不存在", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		var cfgErr *models.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("期望ConfigError, 实际 %v", err)
		}
	})
}

func TestConfig_MergeCLIFlags(t *testing.T) {
	headless := false

	tests := []struct {
		name  string
		flags CLIOverrides
		check func(t *testing.T, c *Config)
	}{
		{
			name:  "零值不覆盖",
			flags: CLIOverrides{},
			check: func(t *testing.T, c *Config) {
				if c.Scrape.Engine != "rod" || !c.Scrape.Headless || c.Metrics.Enabled {
					t.Errorf("配置被意外修改: %+v", c.Scrape)
				}
			},
		},
		{
			name:  "覆盖抓取参数",
			flags: CLIOverrides{Engine: "pool", TargetCount: 30, Headless: &headless, Workers: 8},
			check: func(t *testing.T, c *Config) {
				if c.Scrape.Engine != "pool" || c.Scrape.TargetCount != 30 || c.Scrape.Headless || c.Scrape.Workers != 8 {
					t.Errorf("scrape = %+v", c.Scrape)
				}
			},
		},
		{
			name:  "指定指标地址即启用",
			flags: CLIOverrides{MetricsAddr: ":9100", DBPath: "x.db", LogLevel: "warn"},
			check: func(t *testing.T, c *Config) {
				if !c.Metrics.Enabled || c.Metrics.Addr != ":9100" {
					t.Errorf("metrics = %+v", c.Metrics)
				}
				if c.Storage.DBPath != "x.db" || c.Logging.Level != "warn" {
					t.Errorf("storage=%+v logging=%+v", c.Storage, c.Logging)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Scrape: models.DefaultScrapeConfig()}
			c.MergeCLIFlags(tt.flags)
			tt.check(t, c)
		})
	}
}

func TestConfig_LaunchOptions(t *testing.T) {
	c := &Config{
		Scrape:  models.DefaultScrapeConfig(),
		Browser: BrowserConfig{Bin: "/usr/bin/chromium", UserAgent: "UA"},
		Session: SessionConfig{HomeURL: "https://m.example.com/", LoginTimeout: time.Minute},
	}
	headers := map[string]string{"Accept-Language": "zh-CN"}

	got := c.SessionManagerConfig(headers)
	want := browser.LaunchOptions{Headless: true, Bin: "/usr/bin/chromium", UserAgent: "UA", Headers: headers}
	if diff := cmp.Diff(want, got.Launch); diff != "" {
		t.Errorf("启动参数不一致 (-want +got):\n%s", diff)
	}
	if got.HomeURL != "https://m.example.com/" || got.LoginTimeout != time.Minute {
		t.Errorf("session = %+v", got)
	}
	if got.NavigationTimeout != c.Scrape.NavigationTimeout {
		t.Errorf("navigation_timeout = %v", got.NavigationTimeout)
	}
}
