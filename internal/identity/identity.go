// Package identity 从各种帖子链接中推导稳定ID与规范URL,并负责去重
package identity

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const canonicalHost = "https://www.facebook.com"

var (
	markerSegment  = regexp.MustCompile(`/(?:posts|permalink|videos|photos|story|watch|reel)/([A-Za-z0-9._-]+)`)
	longNumeric    = regexp.MustCompile(`/(\d{10,})(?:/|$)`)
	groupSegment   = regexp.MustCompile(`/groups/([^/?#]+)`)
	idQueryParams  = []string{"story_fbid", "fbid", "id", "v", "photo_id", "multi_permalinks"}
	trackingParams = map[string]bool{
		"__cft__":          true,
		"__tn__":           true,
		"comment_id":       true,
		"reply_comment_id": true,
		"ref":              true,
		"refid":            true,
		"rdid":             true,
		"mibextid":         true,
		"paipv":            true,
		"eav":              true,
	}
)

// Identity 一条帖子的身份
type Identity struct {
	ID      string
	URL     string
	Derived bool // false 表示ID为随机生成
}

// DeriveID 从URL推导帖子ID,失败返回空串
// 优先级: 路径标记后的段 > 10位以上纯数字段 > 查询参数
func DeriveID(rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	if m := markerSegment.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	if m := longNumeric.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}

	q := u.Query()
	for _, param := range idQueryParams {
		if v := strings.TrimSpace(q.Get(param)); v != "" {
			return v
		}
	}
	return ""
}

// FallbackID 生成随机ID,跨运行不稳定
func FallbackID() string {
	return "gen_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// IsFallbackID 判断是否为随机生成的ID
func IsFallbackID(id string) bool {
	return strings.HasPrefix(id, "gen_")
}

// GroupID 从URL中提取群组标识
func GroupID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if m := groupSegment.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}

// CanonicalURL 生成规范URL
// 已知群组和帖子ID时重建为 /groups/<g>/posts/<id>/,否则去掉片段和追踪参数
func CanonicalURL(rawURL, groupHint string) string {
	id := DeriveID(rawURL)
	group := GroupID(rawURL)
	if group == "" {
		group = groupHint
	}
	if id != "" && group != "" {
		return canonicalHost + "/groups/" + group + "/posts/" + id + "/"
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	q := u.Query()
	for param := range q {
		if trackingParams[param] || strings.HasPrefix(param, "__") {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// IsPostLink 判断链接是否指向帖子(而不是群组/用户主页)
func IsPostLink(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if markerSegment.MatchString(u.Path) || strings.Contains(u.Path, "/story.php") || strings.Contains(u.Path, "/permalink.php") {
		return true
	}
	q := u.Query()
	for _, param := range []string{"story_fbid", "fbid", "multi_permalinks", "photo_id"} {
		if q.Get(param) != "" {
			return true
		}
	}
	return false
}

// Resolve 依次检查候选链接,第一个能推导出ID的链接胜出
// 全部失败时生成随机ID
func Resolve(hrefs []string, groupHint string) Identity {
	for _, href := range hrefs {
		if strings.Contains(href, "comment_id=") || !IsPostLink(href) {
			continue
		}
		if id := DeriveID(href); id != "" {
			return Identity{
				ID:      id,
				URL:     CanonicalURL(href, groupHint),
				Derived: true,
			}
		}
	}
	return Identity{ID: FallbackID()}
}

// CommentID 从 data-commentid 值或带 comment_id 参数的链接中取评论ID
func CommentID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.ContainsAny(raw, "/?=") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, key := range []string{"reply_comment_id", "comment_id"} {
		if id := strings.TrimSpace(q.Get(key)); id != "" {
			return id
		}
	}
	return ""
}
