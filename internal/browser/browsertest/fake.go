// Package browsertest 提供可编排的假页面与启动器,用于不启动真实浏览器的测试
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
)

// Handler 按脚本名响应Eval调用,返回值会经过JSON编解码
type Handler func(args []interface{}) (interface{}, error)

// Page 假页面
type Page struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
	url      string
	cookies  []browser.Cookie
	headers  map[string]string
	console  []string
	escapes  int

	// NavigateFunc 自定义导航行为,为nil时只记录URL
	NavigateFunc func(url string) error
	HTMLBody     string
}

// NewPage 创建假页面
func NewPage() *Page {
	return &Page{
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
		HTMLBody: "<html><body></body></html>",
	}
}

// Handle 注册脚本处理函数
func (p *Page) Handle(name string, h Handler) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = h
	return p
}

// Return 注册固定返回值
func (p *Page) Return(name string, v interface{}) *Page {
	return p.Handle(name, func([]interface{}) (interface{}, error) { return v, nil })
}

// Calls 某个脚本被调用的次数
func (p *Page) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

// Escapes 原生ESC按键次数
func (p *Page) Escapes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.escapes
}

// SetURL 设置当前URL
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

// Headers 已设置的额外请求头
func (p *Page) Headers() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.headers
}

// AddConsole 追加console输出
func (p *Page) AddConsole(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.console = append(p.console, line)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.calls["navigate"]++
	fn := p.NavigateFunc
	p.mu.Unlock()

	if fn != nil {
		if err := fn(url); err != nil {
			return err
		}
	}
	p.SetURL(url)
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Eval(ctx context.Context, script browser.Script, out interface{}, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.calls[script.Name]++
	h, ok := p.handlers[script.Name]
	p.mu.Unlock()

	if !ok {
		return nil
	}
	v, err := h(args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("编码假结果失败: %w", err)
	}
	return json.Unmarshal(data, out)
}

func (p *Page) PressEscape(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.escapes++
	return nil
}

func (p *Page) Focus(ctx context.Context) error {
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTMLBody, nil
}

func (p *Page) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Cookie(nil), p.cookies...), nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *Page) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headers = headers
	return nil
}

func (p *Page) ConsoleLines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.console...)
}

// Context 假浏览器会话
type Context struct {
	page   *Page
	mu     sync.Mutex
	closed int
}

// Page 返回页面
func (c *Context) Page() browser.Page {
	return c.page
}

// Close 记录关闭次数
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// Closed 是否已关闭
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed > 0
}

// Launcher 假启动器,每次Launch返回NewPageFunc创建的页面
type Launcher struct {
	mu          sync.Mutex
	NewPageFunc func(opts browser.LaunchOptions) *Page
	LaunchErr   error
	launches    []browser.LaunchOptions
	contexts    []*Context
}

// NewLauncher 每次启动都返回同一个页面
func NewLauncher(page *Page) *Launcher {
	return &Launcher{NewPageFunc: func(browser.LaunchOptions) *Page { return page }}
}

// Name 驱动名称
func (l *Launcher) Name() string {
	return "fake"
}

// Launch 启动假浏览器
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, opts)
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	c := &Context{page: l.NewPageFunc(opts)}
	l.contexts = append(l.contexts, c)
	return c, nil
}

// Launches 历次启动参数
func (l *Launcher) Launches() []browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.LaunchOptions(nil), l.launches...)
}

// Contexts 历次创建的会话
func (l *Launcher) Contexts() []*Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Context(nil), l.contexts...)
}

// AllClosed 所有会话是否都已关闭
func (l *Launcher) AllClosed() bool {
	for _, c := range l.Contexts() {
		if !c.Closed() {
			return false
		}
	}
	return true
}
