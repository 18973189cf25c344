package core

import (
	"net/http"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/config"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
)

// HeaderManager 管理注入浏览器和预检请求的额外HTTP头部
// 优先级: 默认 < 配置文件 < 命令行
// 实现 crawlers.HeaderProvider 接口
type HeaderManager struct {
	// defaults 系统默认头部
	defaults http.Header

	// config 来自主配置的 browser.headers 与头部文件
	config http.Header

	// cli 来自命令行 -H
	cli http.Header

	validator *utils.HeaderValidator
	redactor  *utils.HeaderRedactor
	loader    *config.HeaderFileLoader

	loaded bool
}

// NewHeaderManager 创建头部管理器
// 参数:
//   - userAgent: 浏览器User-Agent,为空使用默认值
//   - inline: 主配置中的 browser.headers
//   - headersFile: 可选的头部文件
//   - cliHeaders: 命令行传递的头部字符串列表
func NewHeaderManager(userAgent string, inline map[string]string, headersFile string, cliHeaders []string) (*HeaderManager, error) {
	if userAgent == "" {
		userAgent = browser.DefaultUserAgent
	}

	cli, err := config.ParseCLIHeaders(cliHeaders)
	if err != nil {
		return nil, err
	}

	hm := &HeaderManager{
		defaults: http.Header{
			"User-Agent":      []string{userAgent},
			"Accept-Language": []string{"en-US,en;q=0.9"},
		},
		config:    make(http.Header),
		cli:       cli,
		validator: utils.NewHeaderValidator(),
		redactor:  utils.NewHeaderRedactor(),
		loader:    config.NewHeaderFileLoader(headersFile),
	}
	for name, value := range inline {
		hm.config.Set(name, value)
	}
	return hm, nil
}

// LoadConfig 加载头部文件,已加载则跳过
// 文件中的头部覆盖主配置中的同名头部
func (hm *HeaderManager) LoadConfig() error {
	if hm.loaded {
		return nil
	}

	file, err := hm.loader.Load()
	if err != nil {
		utils.Errorf("加载HTTP头部文件失败: %v", err)
		return err
	}
	for name, value := range file.Headers {
		hm.config.Set(name, value)
	}
	hm.loaded = true

	if len(hm.config) > 0 {
		utils.Debugf("已加载%d个配置头部: %v", len(hm.config), hm.redactor.Redact(hm.config))
	}
	return nil
}

// Validate 验证所有头部
func (hm *HeaderManager) Validate() error {
	for _, h := range []http.Header{hm.defaults, hm.config, hm.cli} {
		if err := hm.validator.Validate(h); err != nil {
			utils.Errorf("HTTP头部验证失败: %v", err)
			return err
		}
	}
	return nil
}

// GetMergedHeaders 按优先级合并头部
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.config, hm.cli} {
		for name, values := range layer {
			result[name] = values
		}
	}
	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Redact(hm.GetMergedHeaders())
}

// GetHeaders 实现 HeaderProvider 接口
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	if err := hm.LoadConfig(); err != nil {
		return nil, err
	}
	if err := hm.Validate(); err != nil {
		return nil, err
	}
	return hm.GetMergedHeaders(), nil
}

// UserAgent 合并后的User-Agent
func (hm *HeaderManager) UserAgent() string {
	return hm.GetMergedHeaders().Get("User-Agent")
}

// BrowserHeaders 注入浏览器的额外头部
// User-Agent 通过启动参数设置,不在此返回
func (hm *HeaderManager) BrowserHeaders() (map[string]string, error) {
	merged, err := hm.GetHeaders()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(merged))
	for name := range merged {
		if name == "User-Agent" {
			continue
		}
		out[name] = merged.Get(name)
	}
	return out, nil
}
