package crawlers

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/RecoveryAshes/GroupHarvest/internal/identity"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/selectors"
	"github.com/RecoveryAshes/GroupHarvest/internal/timestamp"
)

var (
	// StrictPolicy 去掉全部标签,构建后可并发使用
	strictPolicy = bluemonday.StrictPolicy()

	blockBreak  = regexp.MustCompile(`(?i)<br\s*/?>|</(?:div|p|li|h[1-6])>`)
	seeMoreTail = regexp.MustCompile(`(?i)\s*(?:…|\.\.\.)?\s*see (?:more|less)$`)

	timestampPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\d+\s*(?:s|m|h|d|w|y|mo)$`),
		regexp.MustCompile(`(?i)^(?:yesterday|today|just now|now)\b`),
		regexp.MustCompile(`(?i)\b(?:secs?|seconds?|mins?|minutes?|hrs?|hours?|days?|weeks?|months?|years?)\s*ago$`),
		regexp.MustCompile(`(?i)^(?:january|february|march|april|may|june|july|august|september|october|november|december)\b`),
		regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}$`),
		regexp.MustCompile(`(?i)^\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)`),
	}
)

// cleanText 去除标签和多余空白,保留换行
func cleanText(s string) string {
	s = html.UnescapeString(strictPolicy.Sanitize(s))
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return seeMoreTail.ReplaceAllString(strings.Join(out, "\n"), "")
}

func looksLikeTimestamp(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) >= 60 {
		return false
	}
	for _, re := range timestampPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// PostParser 把抓取到的文章HTML解析为记录
// 只读访问注册表,可被多个解析协程同时使用
type PostParser struct {
	registry     *selectors.Registry
	times        *timestamp.Normalizer
	withComments bool
	groupHint    string
}

// NewPostParser 创建解析器
func NewPostParser(registry *selectors.Registry, times *timestamp.Normalizer, withComments bool, groupHint string) *PostParser {
	return &PostParser{registry: registry, times: times, withComments: withComments, groupHint: groupHint}
}

// Parse 解析一篇文章; 正文和作者都没有命中时返回ContentShapeError
func (p *PostParser) Parse(job ParseJob) (models.PostRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(job.HTML))
	if err != nil {
		return models.PostRecord{}, fmt.Errorf("解析文章HTML失败: %w", err)
	}
	root := doc.Find("body").Children().First()
	if root.Length() == 0 {
		root = doc.Selection
	}

	text := p.content(root)
	author := ""
	if el, _ := p.first(root, selectors.Author); el != nil {
		author = cleanText(el.Text())
	}
	if text == "" && author == "" {
		return models.PostRecord{}, &models.ContentShapeError{Element: job.Key, Reason: "正文与作者均未匹配"}
	}

	ident := p.identity(job)
	rec := models.PostRecord{
		ExternalID:   ident.ID,
		CanonicalURL: ident.URL,
		Text:         text,
		AuthorName:   author,
		RawTimestamp: rawTimestamp(root, p.registry.Candidates(selectors.Timestamp)),
		ScrapedAt:    time.Now().UTC(),
		GeneratedID:  !ident.Derived,
	}
	if el, _ := p.first(root, selectors.AuthorPic); el != nil {
		rec.AuthorProfilePicURL = imageSource(el)
	}
	if el, _ := p.first(root, selectors.PostImage); el != nil {
		rec.ImageURL = imageSource(el)
	}
	if rec.RawTimestamp != "" {
		rec.PostedAt = p.times.Parse(rec.RawTimestamp)
	}
	if p.withComments {
		rec.Comments = p.comments(root)
	}
	rec.FillDefaults()
	return rec, nil
}

// first 按顺序尝试候选选择器,第一个命中的胜出
// 非法选择器在goquery中匹配为空,不会中断
func (p *PostParser) first(root *goquery.Selection, elementType string) (*goquery.Selection, string) {
	return firstMatch(root, p.registry.Candidates(elementType))
}

func firstMatch(root *goquery.Selection, candidates []string) (*goquery.Selection, string) {
	for _, sel := range candidates {
		if found := root.Find(sel); found.Length() > 0 {
			return found.First(), sel
		}
	}
	return nil, ""
}

func (p *PostParser) content(root *goquery.Selection) string {
	if el, sel := p.first(root, selectors.Content); el != nil {
		log.Trace().Str("selector", sel).Msg("正文选择器命中")
		return htmlText(el)
	}
	for _, sel := range p.registry.Candidates(selectors.Content) {
		p.registry.RecordFailure(selectors.Content, sel)
	}

	var fallback string
	root.Find(`div[dir="auto"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := cleanText(s.Text())
		if n := len([]rune(t)); n > 50 && n < 5000 {
			fallback = t
			return false
		}
		return true
	})
	return fallback
}

// identity 驱动协程没能推导ID时,从完整HTML中再试一次
func (p *PostParser) identity(job ParseJob) identity.Identity {
	if job.Identity.Derived || job.BaseURL == "" {
		return job.Identity
	}
	extractor, err := NewLinkExtractor(job.BaseURL)
	if err != nil {
		return job.Identity
	}
	links, err := extractor.PostLinks(job.HTML)
	if err != nil || len(links) == 0 {
		return job.Identity
	}
	if ident := identity.Resolve(links, p.groupHint); ident.Derived {
		return ident
	}
	return job.Identity
}

func (p *PostParser) comments(root *goquery.Selection) []models.CommentRecord {
	var containers *goquery.Selection
	for _, sel := range p.registry.Candidates(selectors.CommentContainer) {
		if found := root.Find(sel); found.Length() > 0 {
			containers = found
			break
		}
	}
	if containers == nil {
		return nil
	}

	var out []models.CommentRecord
	containers.EachWithBreak(func(_ int, c *goquery.Selection) bool {
		var comment models.CommentRecord
		if el, _ := p.first(c, selectors.CommentText); el != nil {
			comment.Text = htmlText(el)
		}
		if comment.Text == "" {
			return true
		}
		if el, _ := p.first(c, selectors.CommentAuthor); el != nil {
			comment.AuthorName = cleanText(el.Text())
		}
		if el, _ := p.first(c, selectors.AuthorPic); el != nil {
			comment.AuthorProfilePicURL = imageSource(el)
		}
		if el, _ := p.first(c, selectors.CommentID); el != nil {
			raw, ok := el.Attr("data-commentid")
			if !ok {
				raw, _ = el.Attr("href")
			}
			comment.ExternalID = identity.CommentID(raw)
		}
		if link := c.Find(`a[href*="comment_id="]`).First(); link.Length() > 0 {
			if raw := strings.TrimSpace(link.Text()); raw != "" {
				comment.PostedAt = p.times.Parse(raw)
			}
		}
		out = append(out, comment)
		return len(out) < 50
	})
	return out
}

// htmlText 块级元素换行后去标签
func htmlText(s *goquery.Selection) string {
	inner, err := s.Html()
	if err != nil {
		return cleanText(s.Text())
	}
	return cleanText(blockBreak.ReplaceAllString(inner, "\n"))
}

func imageSource(s *goquery.Selection) string {
	if goquery.NodeName(s) != "img" && goquery.NodeName(s) != "image" {
		if inner := s.Find("img, image").First(); inner.Length() > 0 {
			s = inner
		}
	}
	for _, attr := range []string{"src", "xlink:href", "href"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// rawTimestamp 依次查找 abbr[title]、候选选择器、time、data-utime 和普通文本
func rawTimestamp(root *goquery.Selection, candidates []string) string {
	if abbr := root.Find("abbr").First(); abbr.Length() > 0 {
		if title, ok := abbr.Attr("title"); ok && title != "" {
			return title
		}
		if t := strings.TrimSpace(abbr.Text()); t != "" {
			return t
		}
	}

	for _, sel := range candidates {
		var found string
		root.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if t := strings.TrimSpace(s.Text()); looksLikeTimestamp(t) {
				found = t
				return false
			}
			if aria, _ := s.Attr("aria-label"); looksLikeTimestamp(aria) {
				found = aria
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}

	if tm := root.Find("time").First(); tm.Length() > 0 {
		if t := strings.TrimSpace(tm.Text()); looksLikeTimestamp(t) {
			return t
		}
		if dt, ok := tm.Attr("datetime"); ok && dt != "" {
			return dt
		}
	}

	if dated := root.Find("[data-utime], [data-date], [data-timestamp]").First(); dated.Length() > 0 {
		for _, attr := range []string{"data-utime", "data-date", "data-timestamp"} {
			if v, ok := dated.Attr(attr); ok && v != "" {
				return v
			}
		}
	}

	var found string
	root.Find("span, a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Closest(`[data-ad-rendering-role="story_message"]`).Length() > 0 {
			return true
		}
		if t := strings.TrimSpace(s.Text()); looksLikeTimestamp(t) {
			found = t
			return false
		}
		return true
	})
	return found
}
