// Package timestamp 将帖子上的相对/绝对时间文本转换为UTC时间
package timestamp

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
	"github.com/rs/zerolog/log"
)

var (
	shortRelative = regexp.MustCompile(`^(\d+)\s*(mo|[smhdwy])$`)
	agoRelative   = regexp.MustCompile(`^(?:about\s+)?(\d+|a|an)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|weeks?|wks?|months?|years?|yrs?)\s+ago$`)
	dayAtTime     = regexp.MustCompile(`^(yesterday|today)(?:\s+at\s+(.+))?$`)
	unixSeconds   = regexp.MustCompile(`^\d{9,11}$`)
)

// maxRelativeAmount 相对时间数量上限,按小时计也不会溢出 time.Duration
const maxRelativeAmount = 1_000_000

var errRelativeRange = errors.New("相对时间数量超出范围")

var shortUnits = map[string]string{
	"s":  "second",
	"m":  "minute",
	"h":  "hour",
	"d":  "day",
	"w":  "week",
	"mo": "month",
	"y":  "year",
}

// 带年份的绝对时间格式
var absoluteLayouts = []string{
	"January 2, 2006 at 3:04 PM",
	"January 2, 2006 at 15:04",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
	"Jan 2, 2006 at 3:04 PM",
	"Jan 2, 2006",
	"Monday, January 2, 2006 at 3:04 PM",
	"2 January 2006 at 15:04",
	"2 January 2006",
	"2 Jan 2006",
	"1/2/2006 3:04 PM",
	"1/2/2006",
	"1/2/06",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// 不带年份的格式,使用当前年份
var yearlessLayouts = []string{
	"January 2 at 3:04 PM",
	"January 2 at 15:04",
	"January 2",
	"Jan 2 at 3:04 PM",
	"Jan 2",
	"2 January at 15:04",
	"2 January",
}

// 仅时间部分
var clockLayouts = []string{
	"3:04 PM",
	"3:04PM",
	"15:04",
}

// Normalizer 时间文本归一化器
type Normalizer struct {
	now func() time.Time
}

// Option 配置项
type Option func(*Normalizer)

// WithClock 注入时钟,用于确定性测试
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// New 创建归一化器
func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Parse 解析时间文本,无法解析时返回nil并记录警告
func (n *Normalizer) Parse(raw string) *time.Time {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}

	now := n.now().UTC()
	lower := strings.ToLower(strings.Join(strings.Fields(text), " "))

	if m := shortRelative.FindStringSubmatch(lower); m != nil {
		lower = m[1] + " " + shortUnits[m[2]] + " ago"
	}

	rel, ok, err := parseRelative(lower, now)
	if err != nil {
		log.Warn().Err(err).Str("input", raw).Msg("时间文本无法解析")
		return nil
	}
	if ok {
		return &rel
	}
	if t, ok := parseDayAtTime(lower, now); ok {
		return &t
	}
	if unixSeconds.MatchString(lower) {
		sec, err := strconv.ParseInt(lower, 10, 64)
		if err == nil {
			t := time.Unix(sec, 0).UTC()
			return &t
		}
	}
	if t, ok := parseAbsolute(text, now); ok {
		return &t
	}

	cfg := &dps.Configuration{
		CurrentTime:     now,
		DefaultTimezone: time.UTC,
	}
	parsed, err := dps.Parse(cfg, lower)
	if err != nil || parsed.Time.IsZero() {
		log.Warn().Str("input", raw).Msg("时间文本无法解析")
		return nil
	}
	t := parsed.Time.UTC()
	return &t
}

// parseRelative 解析 "N 单位 ago"; 格式匹配但数量越界时返回 errRelativeRange
func parseRelative(s string, now time.Time) (time.Time, bool, error) {
	switch s {
	case "just now", "now", "a moment ago", "moments ago":
		return now, true, nil
	}

	m := agoRelative.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false, nil
	}

	amount := 1
	if m[1] != "a" && m[1] != "an" {
		v, err := strconv.Atoi(m[1])
		if err != nil || v > maxRelativeAmount {
			return time.Time{}, false, errRelativeRange
		}
		amount = v
	}

	unit := m[2]
	switch {
	case strings.HasPrefix(unit, "s"):
		return now.Add(-time.Duration(amount) * time.Second), true, nil
	case strings.HasPrefix(unit, "mo"):
		return now.AddDate(0, -amount, 0), true, nil
	case strings.HasPrefix(unit, "m"):
		return now.Add(-time.Duration(amount) * time.Minute), true, nil
	case strings.HasPrefix(unit, "h"):
		return now.Add(-time.Duration(amount) * time.Hour), true, nil
	case strings.HasPrefix(unit, "d"):
		return now.AddDate(0, 0, -amount), true, nil
	case strings.HasPrefix(unit, "w"):
		return now.AddDate(0, 0, -7*amount), true, nil
	case strings.HasPrefix(unit, "y"):
		return now.AddDate(-amount, 0, 0), true, nil
	}
	return time.Time{}, false, nil
}

func parseDayAtTime(s string, now time.Time) (time.Time, bool) {
	m := dayAtTime.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	day := now
	if m[1] == "yesterday" {
		day = now.AddDate(0, 0, -1)
	}
	if m[2] == "" {
		if m[1] == "today" {
			return now, true
		}
		return day, true
	}

	clock := strings.ToUpper(m[2])
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, clock); err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func parseAbsolute(s string, now time.Time) (time.Time, bool) {
	normalized := strings.Join(strings.Fields(s), " ")
	normalized = strings.Replace(normalized, " am", " AM", 1)
	normalized = strings.Replace(normalized, " pm", " PM", 1)

	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, normalized, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range yearlessLayouts {
		if t, err := time.ParseInLocation(layout, normalized, time.UTC); err == nil {
			return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
