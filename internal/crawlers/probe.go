package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
)

// HeaderProvider 提供请求头部
type HeaderProvider interface {
	GetHeaders() (http.Header, error)
}

// ProbeResult 静态预检结果
type ProbeResult struct {
	URL        string        `json:"url"`
	FinalURL   string        `json:"final_url"`
	StatusCode int           `json:"status_code"`
	Title      string        `json:"title"`
	LoginWall  bool          `json:"login_wall"`
	PostLinks  []string      `json:"post_links"`
	BodyBytes  int           `json:"body_bytes"`
	Duration   time.Duration `json:"duration"`
}

// GroupProbe 不启动浏览器,用HTTP请求检查小组页面是否可访问
type GroupProbe struct {
	timeout   time.Duration
	userAgent string
	headers   HeaderProvider
	cookies   []browser.Cookie
}

// NewGroupProbe 创建预检器
func NewGroupProbe(timeout time.Duration, headers HeaderProvider, cookies []browser.Cookie) *GroupProbe {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GroupProbe{timeout: timeout, userAgent: browser.DefaultUserAgent, headers: headers, cookies: cookies}
}

// Probe 请求小组页面并分析
func (p *GroupProbe) Probe(groupURL string) (*ProbeResult, error) {
	start := time.Now()
	result := &ProbeResult{URL: groupURL}

	c := colly.NewCollector(
		colly.UserAgent(p.userAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(p.timeout)
	c.ParseHTTPErrorResponse = true

	if len(p.cookies) > 0 {
		if err := c.SetCookies(groupURL, toHTTPCookies(p.cookies)); err != nil {
			log.Debug().Err(err).Msg("设置预检cookie失败")
		}
	}

	var parseErr error
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Encoding", "gzip, deflate, br")
		if p.headers == nil {
			return
		}
		headers, err := p.headers.GetHeaders()
		if err != nil {
			utils.Warnf("获取HTTP头部失败: %v", err)
			return
		}
		for name, values := range headers {
			if len(values) > 0 {
				r.Headers.Set(name, values[0])
			}
		}
	})

	c.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.FinalURL = r.Request.URL.String()

		body, err := decompressResponse(r.Headers.Get("Content-Encoding"), r.Body)
		if err != nil {
			utils.Warnf("解压响应失败 [%s]: %v", result.FinalURL, err)
			body = r.Body
		}
		result.BodyBytes = len(body)
		parseErr = analyzeGroupPage(result, body)
	})

	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		visitErr = err
	})

	if err := c.Visit(groupURL); err != nil && visitErr == nil {
		visitErr = err
	}
	c.Wait()
	result.Duration = time.Since(start)

	if visitErr != nil {
		return result, fmt.Errorf("预检请求失败: %w", visitErr)
	}
	if parseErr != nil {
		return result, parseErr
	}

	log.Info().
		Str("url", groupURL).
		Int("status", result.StatusCode).
		Str("title", result.Title).
		Bool("login_wall", result.LoginWall).
		Int("post_links", len(result.PostLinks)).
		Msg("小组预检完成")
	return result, nil
}

func analyzeGroupPage(result *ProbeResult, body []byte) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("解析预检页面失败: %w", err)
	}

	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		result.Title = strings.TrimSpace(og)
	} else {
		result.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	result.LoginWall = doc.Find(`form[action*="login"], input[name="pass"], #login_form`).Length() > 0

	base := result.FinalURL
	if base == "" {
		base = result.URL
	}
	extractor, err := NewLinkExtractor(base)
	if err != nil {
		return err
	}
	html, _ := doc.Html()
	links, err := extractor.PostLinks(html)
	if err != nil {
		return err
	}
	result.PostLinks = links
	return nil
}

func toHTTPCookies(cookies []browser.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}

// decompressResponse 根据Content-Encoding头部解压响应体
// 支持 gzip, deflate, br (Brotli) 三种压缩格式
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		// colly 已经解压过gzip时头部仍然保留
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		return io.ReadAll(reader)

	case "br":
		decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}
