package crawlers

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/identity"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

// FeedCrawler 单页面驱动的抓取器,字段在页面内提取
type FeedCrawler struct {
	opts Options
}

// NewFeedCrawler 创建抓取器
func NewFeedCrawler(opts Options) (*FeedCrawler, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return &FeedCrawler{opts: opts}, nil
}

// ScrapeGroup 返回只能遍历一次的帖子序列
// 提前结束遍历会关闭浏览器; 运行中的致命错误作为最后一个元素产出
func (c *FeedCrawler) ScrapeGroup(ctx context.Context, req models.ScrapeRequest) iter.Seq2[models.PostRecord, error] {
	return singleUse(func(yield func(models.PostRecord, error) bool) {
		r, err := startRun(ctx, c.opts, req)
		if err != nil {
			c.opts.Hooks.onFinish(models.RunStats{}, err)
			yield(models.PostRecord{}, err)
			return
		}
		defer r.close()

		err = guard(func() error { return r.open(ctx) })
		if err == nil {
			var ok bool
			ok, err = r.drive(ctx, yield, r.extractVisible)
			if !ok {
				r.finish(nil)
				return
			}
		}
		r.finish(err)
		if err != nil {
			yield(models.PostRecord{}, err)
		}
	})
}

// extractVisible 在页面内提取所有未处理的文章
func (r *feedRun) extractVisible(ctx context.Context) ([]models.PostRecord, int, error) {
	var raws []browser.RawPost
	if err := r.page.Eval(ctx, browser.ScriptExtractPosts, &raws, r.extractConfig()); err != nil {
		return nil, 0, r.evalFailed(browser.ScriptExtractPosts.Name, err)
	}
	r.evalFailure = 0

	var (
		out         []models.PostRecord
		newElements int
		pending     int
	)
	for _, raw := range raws {
		if raw.Fresh {
			newElements++
		}
		if raw.Pending {
			pending++
			continue
		}
		if !r.state.MarkProcessed(raw.Key) {
			continue
		}
		r.recordMissing(raw.Missing)

		rec, err := r.recordFromRaw(raw)
		if err != nil {
			r.stats.Skipped++
			log.Debug().Err(err).Str("run", r.id).Msg("跳过帖子")
			r.analyze(ctx, raw.Key)
			continue
		}
		if reason := r.dedup.Accept(&rec); reason != identity.NotDuplicate {
			r.stats.Duplicates++
			log.Debug().Str("id", rec.ExternalID).Str("reason", string(reason)).Msg("重复帖子")
			continue
		}
		out = append(out, rec)
	}

	log.Debug().
		Str("run", r.id).
		Int("elements", len(raws)).
		Int("new", newElements).
		Int("pending", pending).
		Int("accepted", len(out)).
		Msg("提取周期完成")
	return out, newElements, nil
}

// recordFromRaw 把页面提取结果转换为记录,正文和作者都为空时返回ContentShapeError
func (r *feedRun) recordFromRaw(raw browser.RawPost) (models.PostRecord, error) {
	text := cleanText(raw.Text)
	author := strings.TrimSpace(raw.Author)
	if text == "" && author == "" {
		return models.PostRecord{}, &models.ContentShapeError{Element: raw.Key, Reason: "正文与作者均未匹配"}
	}

	ident := identity.Resolve(raw.Hrefs, r.groupID)
	if !ident.Derived {
		log.Debug().Str("key", raw.Key).Str("id", ident.ID).Msg("无法从链接推导帖子ID,使用随机ID")
	}

	rec := models.PostRecord{
		ExternalID:          ident.ID,
		CanonicalURL:        ident.URL,
		Text:                text,
		AuthorName:          author,
		AuthorProfilePicURL: raw.AuthorPic,
		ImageURL:            raw.Image,
		RawTimestamp:        strings.TrimSpace(raw.RawTimestamp),
		ScrapedAt:           time.Now().UTC(),
		GeneratedID:         !ident.Derived,
	}
	if rec.RawTimestamp != "" {
		rec.PostedAt = r.times.Parse(rec.RawTimestamp)
	}
	for _, c := range raw.Comments {
		comment := models.CommentRecord{
			ExternalID:          identity.CommentID(c.ID),
			AuthorName:          strings.TrimSpace(c.Author),
			AuthorProfilePicURL: c.AuthorPic,
			Text:                cleanText(c.Text),
		}
		if c.RawTimestamp != "" {
			comment.PostedAt = r.times.Parse(c.RawTimestamp)
		}
		if comment.Text != "" {
			rec.Comments = append(rec.Comments, comment)
		}
	}
	rec.FillDefaults()
	return rec, nil
}

// analyze 调试级别输出空帖子的结构线索
func (r *feedRun) analyze(ctx context.Context, key string) {
	if !log.Debug().Enabled() {
		return
	}
	var analysis map[string]interface{}
	if err := r.page.Eval(ctx, browser.ScriptAnalyzeArticle, &analysis, key); err != nil {
		return
	}
	log.Debug().Str("key", key).Interface("analysis", analysis).Msg("空帖子结构分析")
}
