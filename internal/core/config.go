package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/session"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀,如 GROUPHARVEST_SCRAPE_ENGINE=pool
const EnvPrefix = "GROUPHARVEST"

// Config 应用程序配置
type Config struct {
	Scrape    models.ScrapeConfig `mapstructure:"scrape"`
	Session   SessionConfig       `mapstructure:"session"`
	Selectors SelectorsConfig     `mapstructure:"selectors"`
	Browser   BrowserConfig       `mapstructure:"browser"`
	Storage   StorageConfig       `mapstructure:"storage"`
	Metrics   MetricsConfig       `mapstructure:"metrics"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Output    OutputConfig        `mapstructure:"output"`
}

// SessionConfig 会话配置
type SessionConfig struct {
	StatePath    string        `mapstructure:"state_path"`
	EnvFile      string        `mapstructure:"env_file"`
	LoginTimeout time.Duration `mapstructure:"login_timeout"`
	HomeURL      string        `mapstructure:"home_url"`
	LoginURL     string        `mapstructure:"login_url"`
}

// SelectorsConfig 选择器配置
type SelectorsConfig struct {
	LearnedPath string `mapstructure:"learned_path"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Bin         string            `mapstructure:"bin"`
	UserAgent   string            `mapstructure:"user_agent"`
	UserDataDir string            `mapstructure:"user_data_dir"`
	HeadersFile string            `mapstructure:"headers_file"`
	Headers     map[string]string `mapstructure:"headers"`
}

// StorageConfig 持久化配置,路径为空表示不启用
type StorageConfig struct {
	DBPath   string `mapstructure:"db_path"`
	JSONLDir string `mapstructure:"jsonl_dir"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	JSON     bool           `mapstructure:"json"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// LoadConfig 加载配置文件
// configPath为空时在默认位置搜索,找不到配置文件则使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".groupharvest"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &models.ConfigError{FilePath: configPath, Cause: err}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return &config, nil
}

// setDefaults 设置默认配置值
// 每个键都需要默认值,AutomaticEnv 才能在Unmarshal时生效
func setDefaults(v *viper.Viper) {
	def := models.DefaultScrapeConfig()
	v.SetDefault("scrape.engine", def.Engine)
	v.SetDefault("scrape.target_count", def.TargetCount)
	v.SetDefault("scrape.headless", def.Headless)
	v.SetDefault("scrape.workers", def.Workers)
	v.SetDefault("scrape.max_scroll_factor", def.MaxScrollFactor)
	v.SetDefault("scrape.stall_threshold", def.StallThreshold)
	v.SetDefault("scrape.prune_every", def.PruneEvery)
	v.SetDefault("scrape.prune_keep", def.PruneKeep)
	v.SetDefault("scrape.scroll_min_px", def.ScrollMinPx)
	v.SetDefault("scrape.scroll_max_px", def.ScrollMaxPx)
	v.SetDefault("scrape.pause_min", def.PauseMin)
	v.SetDefault("scrape.pause_max", def.PauseMax)
	v.SetDefault("scrape.content_timeout", def.ContentTimeout)
	v.SetDefault("scrape.navigation_timeout", def.NavigationTimeout)
	v.SetDefault("scrape.drain_timeout", def.DrainTimeout)
	v.SetDefault("scrape.retry_base_delay", def.RetryBaseDelay)
	v.SetDefault("scrape.min_content_length", def.MinContentLength)

	sess := session.DefaultConfig()
	v.SetDefault("session.state_path", filepath.Join("data", "session_state.enc"))
	v.SetDefault("session.env_file", ".env")
	v.SetDefault("session.login_timeout", sess.LoginTimeout)
	v.SetDefault("session.home_url", sess.HomeURL)
	v.SetDefault("session.login_url", sess.LoginURL)

	v.SetDefault("selectors.learned_path", filepath.Join("data", "learned_selectors.json"))

	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.user_agent", browser.DefaultUserAgent)
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.headers_file", filepath.Join("configs", "headers.yaml"))

	v.SetDefault("storage.db_path", filepath.Join("data", "groupharvest.db"))
	v.SetDefault("storage.jsonl_dir", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	v.SetDefault("output.base_dir", "output")
}

// CLIOverrides 命令行参数,零值表示未指定
type CLIOverrides struct {
	Engine      string
	TargetCount int
	Headless    *bool
	Workers     int
	DBPath      string
	JSONLDir    string
	MetricsAddr string
	OutputDir   string
	LogLevel    string
}

// MergeCLIFlags 合并命令行参数到配置,命令行优先
func (c *Config) MergeCLIFlags(o CLIOverrides) {
	if o.Engine != "" {
		c.Scrape.Engine = o.Engine
	}
	if o.TargetCount > 0 {
		c.Scrape.TargetCount = o.TargetCount
	}
	if o.Headless != nil {
		c.Scrape.Headless = *o.Headless
	}
	if o.Workers > 0 {
		c.Scrape.Workers = o.Workers
	}
	if o.DBPath != "" {
		c.Storage.DBPath = o.DBPath
	}
	if o.JSONLDir != "" {
		c.Storage.JSONLDir = o.JSONLDir
	}
	if o.MetricsAddr != "" {
		c.Metrics.Enabled = true
		c.Metrics.Addr = o.MetricsAddr
	}
	if o.OutputDir != "" {
		c.Output.BaseDir = o.OutputDir
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
}

// LogConfig 转换为日志配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
		Console:    true,
		JSON:       c.Logging.JSON,
	}
}

// SessionManagerConfig 转换为会话管理器配置
func (c *Config) SessionManagerConfig(headers map[string]string) session.Config {
	cfg := session.DefaultConfig()
	if c.Session.HomeURL != "" {
		cfg.HomeURL = c.Session.HomeURL
	}
	if c.Session.LoginURL != "" {
		cfg.LoginURL = c.Session.LoginURL
	}
	if c.Session.LoginTimeout > 0 {
		cfg.LoginTimeout = c.Session.LoginTimeout
	}
	cfg.NavigationTimeout = c.Scrape.NavigationTimeout
	cfg.Launch = c.LaunchOptions(headers)
	return cfg
}

// LaunchOptions 浏览器启动参数
func (c *Config) LaunchOptions(headers map[string]string) browser.LaunchOptions {
	return browser.LaunchOptions{
		Headless:    c.Scrape.Headless,
		Bin:         c.Browser.Bin,
		UserAgent:   c.Browser.UserAgent,
		UserDataDir: c.Browser.UserDataDir,
		Headers:     headers,
	}
}
