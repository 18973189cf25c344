// Package browser 抽象出抓取所需的最小浏览器能力,
// 由 go-rod 和 chromedp 两套驱动实现。
package browser

import (
	"context"
	"time"
)

// Cookie 浏览器cookie
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // Unix秒,0表示会话cookie
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// LaunchOptions 浏览器启动参数
type LaunchOptions struct {
	Headless    bool
	Bin         string // 浏览器可执行文件,空则自动查找
	UserAgent   string
	UserDataDir string
	Headers     map[string]string // 每个请求附加的HTTP头部
}

// Page 单个页面
// 实现不要求并发安全,同一时刻只允许一个协程驱动
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)

	// Eval 执行脚本,结果按JSON解码到out(可为nil)
	Eval(ctx context.Context, script Script, out interface{}, args ...interface{}) error

	PressEscape(ctx context.Context) error
	Focus(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	SetExtraHeaders(ctx context.Context, headers map[string]string) error

	// ConsoleLines 返回最近的console输出
	ConsoleLines() []string
}

// Context 一个浏览器会话(进程+页面)
// Close 必须可重复调用
type Context interface {
	Page() Page
	Close() error
}

// Launcher 浏览器启动器
type Launcher interface {
	Name() string
	Launch(ctx context.Context, opts LaunchOptions) (Context, error)
}

// 控制台缓冲上限
const maxConsoleLines = 200

// DefaultUserAgent 默认UA
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Sleep 可取消的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
