package crawlers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ParseFunc 解析单个任务
type ParseFunc func(job ParseJob) (ParseResult, error)

// ParsePool 固定数量的解析协程
// 提交与收集都只在驱动协程中调用
type ParsePool struct {
	queue   *ParseQueue
	results chan ParseResult
	parse   ParseFunc

	inFlight atomic.Int64
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
}

// NewParsePool 启动workers个解析协程
func NewParsePool(ctx context.Context, workers int, parse ParseFunc) *ParsePool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &ParsePool{
		queue:   NewParseQueue(1000),
		results: make(chan ParseResult, 1000),
		parse:   parse,
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Debug().Int("workers", workers).Msg("解析协程池已启动")
	return p
}

func (p *ParsePool) worker(id int) {
	defer p.wg.Done()
	for {
		job, ok := p.queue.Pop(p.ctx)
		if !ok {
			return
		}
		res := p.safeParse(job)
		select {
		case p.results <- res:
		case <-p.ctx.Done():
			return
		}
	}
}

// safeParse 单个任务的panic只影响该任务
func (p *ParsePool) safeParse(job ParseJob) (res ParseResult) {
	defer func() {
		if rec := recover(); rec != nil {
			res = ParseResult{Job: job, Err: fmt.Errorf("解析panic: %v", rec)}
		}
	}()
	res, err := p.parse(job)
	res.Job = job
	if err != nil {
		res.Err = err
	}
	return res
}

// Submit 提交任务
func (p *ParsePool) Submit(job ParseJob) error {
	p.inFlight.Add(1)
	if err := p.queue.Push(p.ctx, job); err != nil {
		p.inFlight.Add(-1)
		return err
	}
	return nil
}

// InFlight 已提交但尚未收集的任务数
func (p *ParsePool) InFlight() int {
	return int(p.inFlight.Load())
}

// TryResults 非阻塞地收集已完成的结果
func (p *ParsePool) TryResults() []ParseResult {
	var out []ParseResult
	for {
		select {
		case res := <-p.results:
			p.inFlight.Add(-1)
			out = append(out, res)
		default:
			return out
		}
	}
}

// Drain 等待在途任务完成,最多等待timeout
// 每收到一个结果调用一次handle, handle返回false时提前结束
func (p *ParsePool) Drain(ctx context.Context, timeout time.Duration, handle func(ParseResult) bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for p.InFlight() > 0 {
		select {
		case res := <-p.results:
			p.inFlight.Add(-1)
			if !handle(res) {
				return
			}
		case <-timer.C:
			log.Warn().Int("in_flight", p.InFlight()).Dur("timeout", timeout).Msg("等待解析结果超时,放弃剩余任务")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close 停止所有解析协程,可重复调用
func (p *ParsePool) Close() {
	p.once.Do(func() {
		p.cancel()
		p.queue.Close()
		p.wg.Wait()
	})
}
