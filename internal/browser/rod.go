package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// RodLauncher 基于go-rod的启动器
type RodLauncher struct{}

// NewRodLauncher 创建go-rod启动器
func NewRodLauncher() *RodLauncher {
	return &RodLauncher{}
}

// Name 驱动名称
func (l *RodLauncher) Name() string {
	return "rod"
}

// Launch 启动浏览器并打开一个空白页面
func (l *RodLauncher) Launch(ctx context.Context, opts LaunchOptions) (Context, error) {
	ln := launcher.New().Context(ctx).Headless(opts.Headless)

	// 允许访问证书异常的站点(代理/抓包环境)
	ln = ln.Set("ignore-certificate-errors")
	if opts.Bin != "" {
		ln = ln.Bin(opts.Bin)
	}
	if opts.UserDataDir != "" {
		ln = ln.UserDataDir(opts.UserDataDir)
	}

	controlURL, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		ln.Kill()
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	p, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		ln.Kill()
		return nil, fmt.Errorf("创建页面失败: %w", err)
	}

	rp := &rodPage{page: p, browser: b}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
		log.Debug().Err(err).Msg("设置UA失败")
	}
	if len(opts.Headers) > 0 {
		if err := rp.SetExtraHeaders(ctx, opts.Headers); err != nil {
			log.Warn().Err(err).Msg("设置额外请求头失败")
		}
	}

	if err := (proto.RuntimeEnable{}).Call(p); err == nil {
		go p.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
			parts := make([]string, 0, len(e.Args))
			for _, arg := range e.Args {
				if arg.Description != "" {
					parts = append(parts, arg.Description)
				} else {
					parts = append(parts, arg.Value.String())
				}
			}
			rp.appendConsole(string(e.Type) + ": " + strings.Join(parts, " "))
		})()
	}

	log.Debug().Str("control_url", controlURL).Bool("headless", opts.Headless).Msg("浏览器已启动")
	return &rodContext{launcher: ln, browser: b, page: rp}, nil
}

type rodContext struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rodPage
	once     sync.Once
}

func (c *rodContext) Page() Page {
	return c.page
}

func (c *rodContext) Close() error {
	var err error
	c.once.Do(func() {
		err = c.browser.Close()
		c.launcher.Kill()
		log.Debug().Msg("浏览器已关闭")
	})
	return err
}

type rodPage struct {
	page    *rod.Page
	browser *rod.Browser

	consoleMu sync.Mutex
	console   []string
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	wait := pg.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("导航失败 [%s]: %w", url, err)
	}
	wait()
	return ctx.Err()
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Eval(ctx context.Context, script Script, out interface{}, args ...interface{}) error {
	res, err := p.page.Context(ctx).Evaluate(rod.Eval(script.Source, args...).ByPromise())
	if err != nil {
		return fmt.Errorf("执行脚本 %s 失败: %w", script.Name, err)
	}
	if out == nil {
		return nil
	}
	if err := res.Value.Unmarshal(out); err != nil {
		return fmt.Errorf("解码脚本 %s 结果失败: %w", script.Name, err)
	}
	return nil
}

func (p *rodPage) PressEscape(ctx context.Context) error {
	return p.page.Context(ctx).Keyboard.Press(input.Escape)
}

func (p *rodPage) Focus(ctx context.Context) error {
	_, err := p.page.Context(ctx).Activate()
	return err
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(true, nil)
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Cookies(ctx context.Context) ([]Cookie, error) {
	raw, err := p.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, err
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return cookies, nil
}

func (p *rodPage) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		})
	}
	return p.browser.Context(ctx).SetCookies(params)
}

func (p *rodPage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	dict := make([]string, 0, len(headers)*2)
	for name, value := range headers {
		dict = append(dict, name, value)
	}
	_, err := p.page.Context(ctx).SetExtraHeaders(dict)
	return err
}

func (p *rodPage) ConsoleLines() []string {
	p.consoleMu.Lock()
	defer p.consoleMu.Unlock()
	return append([]string(nil), p.console...)
}

func (p *rodPage) appendConsole(line string) {
	p.consoleMu.Lock()
	defer p.consoleMu.Unlock()
	p.console = append(p.console, line)
	if len(p.console) > maxConsoleLines {
		p.console = p.console[len(p.console)-maxConsoleLines:]
	}
}
