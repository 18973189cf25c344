// Package session 管理登录会话的完整生命周期:
// 加载加密的会话状态、在线验证、必要时引导手动登录并重新保存。
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/selectors"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
)

// ProbeResult 登录状态探测结果
type ProbeResult string

const (
	ProbeValid   ProbeResult = "valid"
	ProbeLogin   ProbeResult = "login"
	ProbeUnknown ProbeResult = "unknown"
)

// Config 会话管理配置
type Config struct {
	HomeURL           string
	LoginURL          string
	LoginTimeout      time.Duration // 等待手动登录的上限
	NavigationTimeout time.Duration
	RetryBaseDelay    time.Duration
	PollInterval      time.Duration
	Launch            browser.LaunchOptions
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		HomeURL:           "https://www.facebook.com/",
		LoginURL:          "https://www.facebook.com/login/",
		LoginTimeout:      5 * time.Minute,
		NavigationTimeout: 30 * time.Second,
		RetryBaseDelay:    2 * time.Second,
		PollInterval:      time.Second,
	}
}

// Manager 会话管理器
type Manager struct {
	cfg      Config
	launcher browser.Launcher
	store    *Store
	registry *selectors.Registry
	creds    CredentialSource
}

// NewManager 创建会话管理器
func NewManager(cfg Config, launcher browser.Launcher, store *Store, registry *selectors.Registry, creds CredentialSource) *Manager {
	if creds == nil {
		creds = NoCredentials{}
	}
	def := DefaultConfig()
	if cfg.HomeURL == "" {
		cfg.HomeURL = def.HomeURL
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = def.LoginURL
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = def.LoginTimeout
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Manager{cfg: cfg, launcher: launcher, store: store, registry: registry, creds: creds}
}

// Launcher 当前使用的浏览器启动器
func (m *Manager) Launcher() browser.Launcher {
	return m.launcher
}

// GetAuthenticatedContext 返回已登录的浏览器会话
// 已保存的会话有效则直接使用,否则转入手动登录
func (m *Manager) GetAuthenticatedContext(ctx context.Context, headless bool) (browser.Context, error) {
	state, err := m.store.Load()
	switch {
	case err == nil:
		log.Info().Str("path", m.store.Path()).Time("saved_at", state.SavedAt).Msg("尝试复用已保存的会话")
		bctx, err := m.openWithState(ctx, state, headless)
		if err == nil {
			return bctx, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Msg("会话无效或已过期,转入手动登录")
	case errors.Is(err, models.ErrNoSession):
		log.Info().Msg("没有可用的会话状态,转入手动登录")
	default:
		return nil, err
	}

	return m.ManualLogin(ctx)
}

// openWithState 用保存的状态打开浏览器并验证
func (m *Manager) openWithState(ctx context.Context, state *State, headless bool) (browser.Context, error) {
	opts := m.cfg.Launch
	opts.Headless = headless
	bctx, err := m.launcher.Launch(ctx, opts)
	if err != nil {
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			_ = bctx.Close()
		}
	}()

	page := bctx.Page()
	if err := page.SetCookies(ctx, state.Cookies); err != nil {
		return nil, fmt.Errorf("恢复cookie失败: %w", err)
	}
	if err := browser.NavigateWithRetry(ctx, page, m.cfg.HomeURL, m.cfg.NavigationTimeout, m.cfg.RetryBaseDelay); err != nil {
		return nil, err
	}

	if items := state.StorageFor(originOf(m.cfg.HomeURL)); len(items) > 0 {
		var restored int
		if err := page.Eval(ctx, browser.ScriptRestoreStorage, &restored, items); err != nil {
			log.Debug().Err(err).Msg("恢复localStorage失败")
		} else {
			log.Debug().Int("items", restored).Msg("已恢复localStorage")
		}
	}

	valid, err := m.Validate(ctx, page)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, models.ErrNoSession
	}

	log.Info().Msg("✅ 会话有效")
	ok = true
	return bctx, nil
}

// Validate 检查页面是否处于登录状态,结果不明确视为无效
// 导航与探测失败会重试3次
func (m *Manager) Validate(ctx context.Context, page browser.Page) (bool, error) {
	var result ProbeResult
	err := browser.Retry(ctx, "会话验证", browser.DefaultAttempts, m.cfg.RetryBaseDelay, func(ctx context.Context) error {
		current, err := page.URL(ctx)
		if err != nil || !strings.HasPrefix(current, strings.TrimSuffix(m.cfg.HomeURL, "/")) {
			navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
			err = page.Navigate(navCtx, m.cfg.HomeURL)
			cancel()
			if err != nil {
				return err
			}
		}
		result, err = m.probe(ctx, page)
		return err
	})
	if err != nil {
		log.Debug().Err(err).Msg("会话验证失败")
		return false, nil
	}

	log.Debug().Str("result", string(result)).Msg("会话探测结果")
	return result == ProbeValid, nil
}

func (m *Manager) probe(ctx context.Context, page browser.Page) (ProbeResult, error) {
	var raw string
	err := page.Eval(ctx, browser.ScriptSessionProbe, &raw,
		m.registry.Candidates(selectors.ProfileMarker),
		m.registry.Candidates(selectors.LoginForm))
	if err != nil {
		return ProbeUnknown, err
	}
	switch ProbeResult(raw) {
	case ProbeValid, ProbeLogin:
		return ProbeResult(raw), nil
	default:
		return ProbeUnknown, nil
	}
}

// ManualLogin 打开可见浏览器等待用户登录,成功后保存会话
func (m *Manager) ManualLogin(ctx context.Context) (browser.Context, error) {
	log.Info().Msg("🔑 启动可见浏览器进行手动登录")

	opts := m.cfg.Launch
	opts.Headless = false
	bctx, err := m.launcher.Launch(ctx, opts)
	if err != nil {
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			_ = bctx.Close()
		}
	}()

	page := bctx.Page()
	start := m.cfg.HomeURL
	user, secret, haveCreds := m.creds.Credentials()
	if haveCreds {
		start = m.cfg.LoginURL
	}
	if err := browser.NavigateWithRetry(ctx, page, start, m.cfg.NavigationTimeout, m.cfg.RetryBaseDelay); err != nil {
		return nil, err
	}

	if haveCreds {
		var filled bool
		if err := page.Eval(ctx, browser.ScriptFillLogin, &filled, user, secret); err != nil || !filled {
			log.Warn().Err(err).Msg("自动填写登录表单失败,请手动登录")
		} else {
			log.Info().Msg("已使用环境变量中的凭据填写登录表单")
		}
	} else {
		log.Info().Msgf("请在打开的浏览器窗口中登录,最长等待 %v", m.cfg.LoginTimeout)
	}

	if err := m.waitForLogin(ctx, page); err != nil {
		return nil, err
	}

	state, err := m.Capture(ctx, page)
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(state); err != nil {
		return nil, fmt.Errorf("保存会话状态失败: %w", err)
	}

	log.Info().Msg("✅ 登录完成,会话已保存")
	ok = true
	return bctx, nil
}

// waitForLogin 在 LoginTimeout 内轮询,直到页面探测为已登录
// URL仍在登录页时不探测; 超时返回 ErrLoginTimeout
func (m *Manager) waitForLogin(ctx context.Context, page browser.Page) error {
	loginCtx, cancel := context.WithTimeout(ctx, m.cfg.LoginTimeout)
	defer cancel()

	host := hostOf(m.cfg.HomeURL)
	last := ProbeUnknown
	for {
		current, err := page.URL(loginCtx)
		if err == nil && isLoggedInURL(current, host) {
			result, err := m.probe(loginCtx, page)
			if err == nil && result == ProbeValid {
				log.Info().Str("url", current).Msg("检测到个人资料标记,登录成功")
				return nil
			}
			if result != last {
				log.Debug().Err(err).Str("result", string(result)).Msg("尚未登录")
				last = result
			}
		}
		if err := browser.Sleep(loginCtx, m.cfg.PollInterval); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w (等待 %v)", models.ErrLoginTimeout, m.cfg.LoginTimeout)
		}
	}
}

// Capture 读取当前浏览器的cookie与localStorage
func (m *Manager) Capture(ctx context.Context, page browser.Page) (*State, error) {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取cookie失败: %w", err)
	}

	state := &State{Cookies: cookies, SavedAt: time.Now().UTC()}
	if e := log.Debug(); e.Enabled() {
		named := make(map[string]string, len(cookies))
		for _, c := range cookies {
			named[c.Name] = c.Value
		}
		e.Interface("cookies", utils.RedactCookies(named)).Msg("已读取会话cookie")
	}

	var snap browser.StorageSnapshot
	if err := page.Eval(ctx, browser.ScriptCaptureStorage, &snap); err != nil {
		log.Debug().Err(err).Msg("读取localStorage失败")
	} else if snap.Origin != "" && len(snap.Items) > 0 {
		state.Origins = append(state.Origins, snap)
	}
	return state, nil
}

func isLoggedInURL(current, host string) bool {
	u, err := url.Parse(current)
	if err != nil || u.Host == "" {
		return false
	}
	if !strings.HasSuffix(u.Host, trimWWW(host)) {
		return false
	}
	return !strings.Contains(strings.ToLower(current), "login") &&
		!strings.Contains(u.Path, "/checkpoint")
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func trimWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}
