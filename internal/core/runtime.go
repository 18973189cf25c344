package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/crawlers"
	"github.com/RecoveryAshes/GroupHarvest/internal/metrics"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/selectors"
	"github.com/RecoveryAshes/GroupHarvest/internal/session"
	"github.com/RecoveryAshes/GroupHarvest/internal/storage"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
)

const monitorInterval = 5 * time.Second

// Runtime 由配置装配的运行时依赖
type Runtime struct {
	Config   *Config
	Headers  *HeaderManager
	Registry *selectors.Registry
	Sessions *session.Manager
	State    *session.Store
	Store    *storage.SQLiteStore
	Metrics  *metrics.Recorder
	Monitor  *crawlers.ResourceMonitor
}

// NewLauncher 按引擎选择浏览器驱动
func NewLauncher(engine models.Engine) (browser.Launcher, error) {
	switch engine {
	case models.EngineRod:
		return browser.NewRodLauncher(), nil
	case models.EnginePool:
		return browser.NewChromedpLauncher(), nil
	default:
		return nil, fmt.Errorf("%w: 未知引擎 %q", models.ErrInvalidRequest, engine)
	}
}

// NewRuntime 装配运行时
// withStore 为false时不打开数据库(如 login/probe 子命令)
func NewRuntime(ctx context.Context, cfg *Config, cliHeaders []string, withStore bool) (*Runtime, error) {
	if err := cfg.Scrape.Validate(); err != nil {
		return nil, &models.ValidationError{Field: "scrape", Value: cfg.Scrape.Engine, Reason: err.Error()}
	}

	headers, err := NewHeaderManager(cfg.Browser.UserAgent, cfg.Browser.Headers, cfg.Browser.HeadersFile, cliHeaders)
	if err != nil {
		return nil, err
	}
	browserHeaders, err := headers.BrowserHeaders()
	if err != nil {
		return nil, err
	}
	utils.Debugf("浏览器额外头部: %v", headers.GetSafeHeaders())

	registry := selectors.New(cfg.Selectors.LearnedPath)
	registry.Load()

	launcher, err := NewLauncher(models.Engine(cfg.Scrape.Engine))
	if err != nil {
		return nil, err
	}
	cipher, err := session.NewMachineCipher()
	if err != nil {
		return nil, err
	}
	sessCfg := cfg.SessionManagerConfig(browserHeaders)
	sessCfg.Launch.UserAgent = headers.UserAgent()
	state := session.NewStore(cfg.Session.StatePath, cipher)
	manager := session.NewManager(sessCfg, launcher, state, registry, session.EnvCredentials{EnvFile: cfg.Session.EnvFile})

	rt := &Runtime{
		Config:   cfg,
		Headers:  headers,
		Registry: registry,
		Sessions: manager,
		State:    state,
		Monitor:  crawlers.NewResourceMonitor(crawlers.DefaultResourceMonitorConfig()),
	}
	rt.Monitor.StartMonitoring(monitorInterval)

	if withStore && cfg.Storage.DBPath != "" {
		store, err := storage.OpenSQLite(ctx, cfg.Storage.DBPath)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Store = store
	}
	if cfg.Metrics.Enabled {
		rt.Metrics = metrics.NewRecorder()
	}
	return rt, nil
}

// ServeMetrics 启动指标服务,未启用时立即返回
func (rt *Runtime) ServeMetrics(ctx context.Context) {
	if rt.Metrics == nil {
		return
	}
	go func() {
		if err := rt.Metrics.Serve(ctx, rt.Config.Metrics.Addr); err != nil {
			utils.Errorf("指标服务异常退出: %v", err)
		}
	}()
}

// Scraper 创建抓取服务
func (rt *Runtime) Scraper(progress bool) (*Scraper, error) {
	return NewScraper(Deps{
		Config:   rt.Config,
		Sessions: rt.Sessions,
		Registry: rt.Registry,
		Monitor:  rt.Monitor,
		Store:    rt.Store,
		Metrics:  rt.Metrics,
		Progress: progress,
	})
}

// SavedCookies 已保存会话中的cookie,没有会话时返回nil
func (rt *Runtime) SavedCookies() []browser.Cookie {
	st, err := rt.State.Load()
	if err != nil {
		utils.Debugf("没有可用的会话cookie: %v", err)
		return nil
	}
	return st.Cookies
}

// Close 释放资源
func (rt *Runtime) Close() error {
	if rt.Monitor != nil {
		rt.Monitor.StopMonitoring()
	}
	var errs []error
	if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	if rt.Registry != nil && rt.Registry.Path() != "" {
		if err := rt.Registry.Save(); err != nil {
			errs = append(errs, fmt.Errorf("保存学习选择器失败: %w", err))
		}
	}
	return errors.Join(errs...)
}
