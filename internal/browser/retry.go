package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

// DefaultAttempts 默认尝试次数
const DefaultAttempts = 3

// Retry 对瞬时失败做指数退避重试,总共attempts次
// 耗尽后返回包装了 models.ErrMaxRetriesReached 的错误
func Retry(ctx context.Context, op string, attempts int, base time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = time.Second
	}

	n := 0
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n++
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Debug().Err(err).Str("op", op).Int("attempt", n).Int("max", attempts).Msg("操作失败,准备重试")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrMaxRetriesReached, err)
}

// NavigateWithRetry 带重试的导航,每次尝试受timeout约束
func NavigateWithRetry(ctx context.Context, page Page, url string, timeout, base time.Duration) error {
	return Retry(ctx, "导航 "+url, DefaultAttempts, base, func(ctx context.Context) error {
		navCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return page.Navigate(navCtx, url)
	})
}
