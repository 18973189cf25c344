package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rs/zerolog/log"
)

// ChromedpLauncher 基于chromedp的启动器
type ChromedpLauncher struct{}

// NewChromedpLauncher 创建chromedp启动器
func NewChromedpLauncher() *ChromedpLauncher {
	return &ChromedpLauncher{}
}

// Name 驱动名称
func (l *ChromedpLauncher) Name() string {
	return "chromedp"
}

// Launch 启动浏览器
// 浏览器生命周期绑定在独立的后台context上,调用方的ctx只约束启动过程
func (l *ChromedpLauncher) Launch(ctx context.Context, opts LaunchOptions) (Context, error) {
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(ua),
		chromedp.WindowSize(1366, 900),
	)
	if opts.Bin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.Bin))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	p := &cdpPage{ctx: tabCtx}
	c := &cdpContext{page: p, cancel: func() {
		cancelTab()
		cancelAlloc()
	}}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventConsoleAPICalled); ok {
			parts := make([]string, 0, len(e.Args))
			for _, arg := range e.Args {
				if arg.Description != "" {
					parts = append(parts, arg.Description)
				} else {
					parts = append(parts, string(arg.Value))
				}
			}
			p.appendConsole(string(e.Type) + ": " + strings.Join(parts, " "))
		}
	})

	// 第一次Run会真正启动浏览器
	if err := p.run(ctx, network.Enable()); err != nil {
		c.Close()
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}
	if len(opts.Headers) > 0 {
		if err := p.SetExtraHeaders(ctx, opts.Headers); err != nil {
			log.Warn().Err(err).Msg("设置额外请求头失败")
		}
	}

	log.Debug().Bool("headless", opts.Headless).Msg("chromedp浏览器已启动")
	return c, nil
}

type cdpContext struct {
	page   *cdpPage
	cancel func()
	once   sync.Once
}

func (c *cdpContext) Page() Page {
	return c.page
}

func (c *cdpContext) Close() error {
	c.once.Do(func() {
		c.cancel()
		log.Debug().Msg("chromedp浏览器已关闭")
	})
	return nil
}

type cdpPage struct {
	ctx context.Context

	consoleMu sync.Mutex
	console   []string
}

// run 在标签页context上执行动作,调用方ctx取消时中止
func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	return chromedp.Run(runCtx, actions...)
}

func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("导航失败 [%s]: %w", url, err)
	}
	return nil
}

func (p *cdpPage) URL(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, chromedp.Location(&loc))
	return loc, err
}

// Eval 把函数表达式包装为立即调用,结果在页面内序列化为JSON字符串
func (p *cdpPage) Eval(ctx context.Context, script Script, out interface{}, args ...interface{}) error {
	encoded := make([]string, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return fmt.Errorf("编码脚本 %s 参数失败: %w", script.Name, err)
		}
		encoded = append(encoded, string(data))
	}
	expr := fmt.Sprintf("(async () => JSON.stringify(((await (%s)(%s)) ?? null)))()",
		script.Source, strings.Join(encoded, ", "))

	var result string
	err := p.run(ctx, chromedp.Evaluate(expr, &result, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err != nil {
		return fmt.Errorf("执行脚本 %s 失败: %w", script.Name, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(result), out); err != nil {
		return fmt.Errorf("解码脚本 %s 结果失败: %w", script.Name, err)
	}
	return nil
}

func (p *cdpPage) PressEscape(ctx context.Context) error {
	return p.run(ctx, chromedp.KeyEvent(kb.Escape))
}

func (p *cdpPage) Focus(ctx context.Context) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.BringToFront().Do(ctx)
	}))
}

func (p *cdpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.FullScreenshot(&buf, 90))
	return buf, err
}

func (p *cdpPage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *cdpPage) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
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
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return cookies, nil
}

func (p *cdpPage) SetCookies(ctx context.Context, cookies []Cookie) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			params := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				params = params.WithExpires(&expires)
			}
			if c.SameSite != "" {
				params = params.WithSameSite(network.CookieSameSite(c.SameSite))
			}
			if err := params.Do(ctx); err != nil {
				return fmt.Errorf("设置cookie %s 失败: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (p *cdpPage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for name, value := range headers {
		h[name] = value
	}
	return p.run(ctx, network.SetExtraHTTPHeaders(h))
}

func (p *cdpPage) ConsoleLines() []string {
	p.consoleMu.Lock()
	defer p.consoleMu.Unlock()
	return append([]string(nil), p.console...)
}

func (p *cdpPage) appendConsole(line string) {
	p.consoleMu.Lock()
	defer p.consoleMu.Unlock()
	p.console = append(p.console, line)
	if len(p.console) > maxConsoleLines {
		p.console = p.console[len(p.console)-maxConsoleLines:]
	}
}
