package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yashrajoria/fitmeals-backend/services/common/logger"
)

// BestEffort runs side effects whose failure must never reach the caller.
// Each task gets its own timeout, detached from request cancellation but
// keeping request-scoped values such as the request ID.
type BestEffort struct {
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewBestEffort(timeout time.Duration) *BestEffort {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BestEffort{timeout: timeout}
}

// Go starts fn in the background. Errors and panics are logged.
func (b *BestEffort) Go(ctx context.Context, name string, fn func(context.Context) error) {
	if b == nil {
		return
	}
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error(taskCtx, "side effect panicked", fmt.Errorf("%v", r), zap.String("task", name))
			}
		}()
		if err := fn(taskCtx); err != nil {
			logger.Warn(taskCtx, "side effect failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Wait blocks until running tasks finish or ctx is done.
func (b *BestEffort) Wait(ctx context.Context) {
	if b == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
