package identity

import (
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

const (
	fingerprintRunes = 200
	fuzzyMinRunes    = 20

	// FuzzyThreshold Jaro-Winkler相似度阈值
	FuzzyThreshold = 0.97
)

// DupReason 重复原因
type DupReason string

const (
	NotDuplicate DupReason = ""
	DupID        DupReason = "id"
	DupURL       DupReason = "url"
	DupContent   DupReason = "content"
	DupFuzzy     DupReason = "fuzzy"
)

// Deduper 单次运行内的去重器,只在驱动协程中使用
type Deduper struct {
	ids          map[string]struct{}
	urls         map[string]struct{}
	fingerprints map[uint64]struct{}
	prefixes     []string
}

// NewDeduper 创建去重器
func NewDeduper() *Deduper {
	return &Deduper{
		ids:          make(map[string]struct{}),
		urls:         make(map[string]struct{}),
		fingerprints: make(map[uint64]struct{}),
	}
}

// SeenKey 判断ID或URL是否已出现
func (d *Deduper) SeenKey(id, canonicalURL string) bool {
	if _, ok := d.ids[id]; ok && id != "" {
		return true
	}
	if _, ok := d.urls[canonicalURL]; ok && canonicalURL != "" {
		return true
	}
	return false
}

// Claim 在派发解析任务前占用ID和URL,已出现则返回false
func (d *Deduper) Claim(id, canonicalURL string) bool {
	if d.SeenKey(id, canonicalURL) {
		return false
	}
	d.rememberKey(id, canonicalURL)
	return true
}

// Release 撤销Claim,用于解析失败的帖子
func (d *Deduper) Release(id, canonicalURL string) {
	if id != "" {
		delete(d.ids, id)
	}
	if canonicalURL != "" {
		delete(d.urls, canonicalURL)
	}
}

// Accept 完整检查一条记录,非重复时记录其全部键
func (d *Deduper) Accept(rec *models.PostRecord) DupReason {
	if _, ok := d.ids[rec.ExternalID]; ok {
		return DupID
	}
	if _, ok := d.urls[rec.CanonicalURL]; ok && rec.CanonicalURL != "" {
		return DupURL
	}
	if reason := d.AcceptContent(rec); reason != NotDuplicate {
		return reason
	}
	d.rememberKey(rec.ExternalID, rec.CanonicalURL)
	return NotDuplicate
}

// AcceptContent 仅按内容指纹(及随机ID记录的模糊匹配)检查并记录
func (d *Deduper) AcceptContent(rec *models.PostRecord) DupReason {
	normalized := normalizeText(rec.Text)
	if normalized == "" {
		return NotDuplicate
	}

	fp := fingerprint(normalized)
	if _, ok := d.fingerprints[fp]; ok {
		return DupContent
	}

	if rec.GeneratedID && len([]rune(normalized)) >= fuzzyMinRunes {
		for _, prev := range d.prefixes {
			if matchr.JaroWinkler(normalized, prev, false) >= FuzzyThreshold {
				return DupFuzzy
			}
		}
	}

	d.fingerprints[fp] = struct{}{}
	if len([]rune(normalized)) >= fuzzyMinRunes {
		d.prefixes = append(d.prefixes, normalized)
	}
	return NotDuplicate
}

// Len 已记录的ID数量
func (d *Deduper) Len() int {
	return len(d.ids)
}

func (d *Deduper) rememberKey(id, canonicalURL string) {
	if id != "" {
		d.ids[id] = struct{}{}
	}
	if canonicalURL != "" {
		d.urls[canonicalURL] = struct{}{}
	}
}

// normalizeText 小写,去掉非字母数字字符,截取前200个字符
func normalizeText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || text == "N/A" {
		return ""
	}

	var b strings.Builder
	n := 0
	for _, r := range strings.ToLower(text) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			continue
		}
		b.WriteRune(r)
		n++
		if n >= fingerprintRunes {
			break
		}
	}
	return b.String()
}

func fingerprint(normalized string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalized))
	return h.Sum64()
}
