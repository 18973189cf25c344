package crawlers

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/RecoveryAshes/GroupHarvest/internal/identity"
)

// LinkExtractor 从HTML中提取链接
type LinkExtractor struct {
	base *url.URL
}

// NewLinkExtractor 创建链接提取器, baseURL用于解析相对链接
func NewLinkExtractor(baseURL string) (*LinkExtractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("解析baseURL失败: %w", err)
	}
	return &LinkExtractor{base: base}, nil
}

// ExtractFromHTML 提取所有 a[href] 的绝对地址,按出现顺序去重
func (e *LinkExtractor) ExtractFromHTML(htmlContent string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}

	seen := make(map[string]bool)
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if abs, ok := e.resolve(attr.Val); ok && !seen[abs] {
					seen[abs] = true
					links = append(links, abs)
				}
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return links, nil
}

// PostLinks 只保留帖子链接
func (e *LinkExtractor) PostLinks(htmlContent string) ([]string, error) {
	links, err := e.ExtractFromHTML(htmlContent)
	if err != nil {
		return nil, err
	}
	out := links[:0]
	for _, link := range links {
		if identity.IsPostLink(link) && !strings.Contains(link, "comment_id=") {
			out = append(out, link)
		}
	}
	return out, nil
}

func (e *LinkExtractor) resolve(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(strings.ToLower(raw), "javascript:") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	abs := e.base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}
