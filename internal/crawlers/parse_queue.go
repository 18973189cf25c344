package crawlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RecoveryAshes/GroupHarvest/internal/identity"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

// ErrQueueClosed 队列已关闭
var ErrQueueClosed = errors.New("解析队列已关闭")

// ParseJob 一篇待解析的文章
type ParseJob struct {
	Key        string
	HTML       string
	Identity   identity.Identity
	BaseURL    string
	CapturedAt time.Time
}

// ParseResult 解析结果, Err非空时该帖子被丢弃
type ParseResult struct {
	Job    ParseJob
	Record models.PostRecord
	Err    error
}

// ParseQueue 解析任务队列
// 职责: 在驱动协程与解析协程之间传递任务,支持并发安全的Push/Pop
type ParseQueue struct {
	pending chan ParseJob

	// 保护closed
	mu     sync.RWMutex
	closed bool
}

// NewParseQueue 创建队列
func NewParseQueue(capacity int) *ParseQueue {
	if capacity < 1 {
		capacity = 1000
	}
	return &ParseQueue{pending: make(chan ParseJob, capacity)}
}

// Push 加入任务,队列满时阻塞直到ctx取消
func (q *ParseQueue) Push(ctx context.Context, job ParseJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.pending <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop 取出下一个任务,队列关闭或ctx取消时返回false
func (q *ParseQueue) Pop(ctx context.Context) (ParseJob, bool) {
	select {
	case <-ctx.Done():
		return ParseJob{}, false
	case job, ok := <-q.pending:
		return job, ok
	}
}

// PendingCount 当前排队的任务数
func (q *ParseQueue) PendingCount() int {
	return len(q.pending)
}

// Close 关闭队列,之后的Push返回ErrQueueClosed
func (q *ParseQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		close(q.pending)
		q.closed = true
	}
}
