package crawlers

import (
	"context"
	"iter"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/identity"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

// PoolCrawler 单协程驱动页面,文章HTML交给解析协程池
type PoolCrawler struct {
	opts Options
}

// NewPoolCrawler 创建抓取器
func NewPoolCrawler(opts Options) (*PoolCrawler, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return &PoolCrawler{opts: opts}, nil
}

// poolRun 在feedRun之上增加解析协程池
type poolRun struct {
	*feedRun
	pool *ParsePool
}

// ScrapeGroup 返回只能遍历一次的帖子序列
// 解析协程完成顺序不固定,产出顺序可能与页面顺序略有不同
func (c *PoolCrawler) ScrapeGroup(ctx context.Context, req models.ScrapeRequest) iter.Seq2[models.PostRecord, error] {
	return singleUse(func(yield func(models.PostRecord, error) bool) {
		r, err := startRun(ctx, c.opts, req)
		if err != nil {
			c.opts.Hooks.onFinish(models.RunStats{}, err)
			yield(models.PostRecord{}, err)
			return
		}
		defer r.close()

		workers := c.opts.Config.Workers
		if c.opts.Monitor != nil {
			workers = c.opts.Monitor.Workers(workers)
		}
		parser := NewPostParser(r.registry, r.times, req.Fields.Has(models.FieldComments), r.groupID)
		pool := NewParsePool(ctx, workers, func(job ParseJob) (ParseResult, error) {
			rec, err := parser.Parse(job)
			return ParseResult{Record: rec}, err
		})
		defer pool.Close()

		pr := &poolRun{feedRun: r, pool: pool}
		err = guard(func() error { return r.open(ctx) })
		if err == nil {
			var ok bool
			ok, err = r.drive(ctx, yield, pr.cycle)
			if ok && err == nil {
				ok = pr.finalDrain(ctx, yield)
			}
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

// cycle 展开并抓取新文章,在驱动协程中完成ID推导与去重后派发解析
func (pr *poolRun) cycle(ctx context.Context) ([]models.PostRecord, int, error) {
	r := pr.feedRun

	var captured []browser.CapturedArticle
	if err := r.page.Eval(ctx, browser.ScriptCaptureArticles, &captured, r.extractConfig()); err != nil {
		return pr.collect(), 0, r.evalFailed(browser.ScriptCaptureArticles.Name, err)
	}
	r.evalFailure = 0

	// 先收集已完成的结果,解析失败的帖子在派发前释放占用的ID
	records := pr.collect()

	base, _ := r.page.URL(ctx)
	newElements, dispatched, pending := 0, 0, 0
	for _, art := range captured {
		if art.Fresh {
			newElements++
		}
		if art.Pending {
			pending++
			continue
		}
		if !r.state.MarkProcessed(art.Key) {
			continue
		}

		ident := identity.Resolve(art.Hrefs, r.groupID)
		if !r.dedup.Claim(ident.ID, ident.URL) {
			r.stats.Duplicates++
			log.Debug().Str("id", ident.ID).Msg("重复帖子,不派发解析")
			continue
		}
		job := ParseJob{Key: art.Key, HTML: art.HTML, Identity: ident, BaseURL: base, CapturedAt: time.Now()}
		if err := pr.pool.Submit(job); err != nil {
			log.Warn().Err(err).Str("key", art.Key).Msg("派发解析任务失败")
			continue
		}
		dispatched++
	}

	records = append(records, pr.collect()...)
	log.Debug().
		Str("run", r.id).
		Int("captured", len(captured)).
		Int("new", newElements).
		Int("pending", pending).
		Int("dispatched", dispatched).
		Int("in_flight", pr.pool.InFlight()).
		Int("ready", len(records)).
		Msg("抓取周期完成")
	return records, newElements, nil
}

// collect 非阻塞收集已完成的解析结果
func (pr *poolRun) collect() []models.PostRecord {
	var out []models.PostRecord
	for _, res := range pr.pool.TryResults() {
		if rec, ok := pr.accept(res); ok {
			out = append(out, rec)
		}
	}
	return out
}

// accept 处理解析结果: 失败只丢弃该帖子,再做内容去重
// 骨架文章释放ID与元素标记,加载完成后的同一帖子仍可产出
func (pr *poolRun) accept(res ParseResult) (models.PostRecord, bool) {
	r := pr.feedRun
	if res.Err != nil {
		if models.IsContentShape(res.Err) {
			r.stats.Skipped++
			r.dedup.Release(res.Job.Identity.ID, res.Job.Identity.URL)
			r.state.Forget(res.Job.Key)
			log.Debug().Err(res.Err).Str("id", res.Job.Identity.ID).Msg("跳过帖子")
		} else {
			r.stats.ParseErrors++
			log.Warn().Err(res.Err).Str("key", res.Job.Key).Msg("解析帖子失败,已丢弃")
		}
		return models.PostRecord{}, false
	}

	rec := res.Record
	var reason identity.DupReason
	if rec.ExternalID != res.Job.Identity.ID {
		// 解析时从完整HTML推导出了真实ID
		reason = r.dedup.Accept(&rec)
	} else {
		reason = r.dedup.AcceptContent(&rec)
	}
	if reason != identity.NotDuplicate {
		r.stats.Duplicates++
		log.Debug().Str("id", rec.ExternalID).Str("reason", string(reason)).Msg("重复帖子")
		return models.PostRecord{}, false
	}
	return rec, true
}

// finalDrain 滚动结束后收集在途的解析结果
func (pr *poolRun) finalDrain(ctx context.Context, yield func(models.PostRecord, error) bool) bool {
	r := pr.feedRun
	if r.state.Remaining() == 0 || pr.pool.InFlight() == 0 {
		return true
	}
	log.Debug().Int("in_flight", pr.pool.InFlight()).Msg("等待在途解析任务")

	ok := true
	pr.pool.Drain(ctx, r.cfg.DrainTimeout, func(res ParseResult) bool {
		rec, accepted := pr.accept(res)
		if !accepted {
			return true
		}
		if !r.emit(rec, yield) {
			ok = false
			return false
		}
		return r.state.Remaining() > 0
	})
	if ok && r.state.Remaining() == 0 {
		r.stats.StopReason = models.StopTargetReached
	}
	return ok
}
