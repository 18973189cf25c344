package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// 字段名称 (用于 --fields 字段子集)
const (
	FieldText          = "text"
	FieldAuthorName    = "author_name"
	FieldAuthorPicture = "author_profile_pic_url"
	FieldImage         = "image_url"
	FieldPostedAt      = "posted_at"
	FieldComments      = "comments"
)

// AllFields 所有可选字段
var AllFields = []string{
	FieldText,
	FieldAuthorName,
	FieldAuthorPicture,
	FieldImage,
	FieldPostedAt,
	FieldComments,
}

// PostRecord 一条帖子记录
type PostRecord struct {
	ExternalID          string          `json:"external_id"`
	CanonicalURL        string          `json:"canonical_url"`
	Text                string          `json:"text"`
	AuthorName          string          `json:"author_name"`
	AuthorProfilePicURL string          `json:"author_profile_pic_url,omitempty"`
	ImageURL            string          `json:"image_url,omitempty"`
	PostedAt            *time.Time      `json:"posted_at"`
	RawTimestamp        string          `json:"raw_timestamp,omitempty"`
	ScrapedAt           time.Time       `json:"scraped_at"`
	GeneratedID         bool            `json:"generated_id"` // ID为随机生成,跨运行不稳定
	Comments            []CommentRecord `json:"comments"`
}

// CommentRecord 一条评论记录
type CommentRecord struct {
	ExternalID          string     `json:"external_id,omitempty"`
	AuthorName          string     `json:"author_name,omitempty"`
	AuthorProfilePicURL string     `json:"author_profile_pic_url,omitempty"`
	Text                string     `json:"text"`
	PostedAt            *time.Time `json:"posted_at,omitempty"`
}

// FillDefaults 填充缺省值
func (p *PostRecord) FillDefaults() {
	if strings.TrimSpace(p.Text) == "" {
		p.Text = "N/A"
	}
	if strings.TrimSpace(p.AuthorName) == "" {
		p.AuthorName = "Anonymous"
	}
	if p.Comments == nil {
		p.Comments = []CommentRecord{}
	}
}

// FieldSet 字段子集,nil表示全部字段
type FieldSet map[string]bool

// ParseFieldSet 解析字段子集
func ParseFieldSet(names []string) (FieldSet, error) {
	if len(names) == 0 {
		return nil, nil
	}

	known := make(map[string]bool, len(AllFields))
	for _, f := range AllFields {
		known[f] = true
	}

	set := make(FieldSet)
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if !known[name] {
			return nil, &ValidationError{
				Field:      "fields",
				Value:      raw,
				Reason:     "未知字段",
				Suggestion: "可选: " + strings.Join(AllFields, ","),
			}
		}
		set[name] = true
	}
	if len(set) == 0 {
		return nil, nil
	}
	return set, nil
}

// Has 判断字段是否被请求
func (fs FieldSet) Has(name string) bool {
	if fs == nil {
		return true
	}
	return fs[name]
}

// Apply 清空未被请求的字段,ID和URL始终保留
func (fs FieldSet) Apply(p *PostRecord) {
	if fs == nil {
		return
	}
	if !fs.Has(FieldText) {
		p.Text = ""
	}
	if !fs.Has(FieldAuthorName) {
		p.AuthorName = ""
	}
	if !fs.Has(FieldAuthorPicture) {
		p.AuthorProfilePicURL = ""
	}
	if !fs.Has(FieldImage) {
		p.ImageURL = ""
	}
	if !fs.Has(FieldPostedAt) {
		p.PostedAt = nil
		p.RawTimestamp = ""
	}
	if !fs.Has(FieldComments) {
		p.Comments = []CommentRecord{}
	}
}

// String 返回排序后的字段列表
func (fs FieldSet) String() string {
	if fs == nil {
		return "all"
	}
	names := make([]string, 0, len(fs))
	for name := range fs {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprint(names)
}
