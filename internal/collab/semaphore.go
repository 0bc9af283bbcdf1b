package collab

import (
	"context"
	"errors"
	"fmt"
)

// 单实例允许的最大在途下游调用数（内容提交、kafka 发送共用）
const MaxSemaphore = 100

var errReleaseWithoutAcquire = errors.New("release semaphore without acquire")

// SemaphoreControl 用带缓冲通道实现计数信号量，
// 给内容提交这类必须限时的调用做并发上限。
type SemaphoreControl struct {
	slots chan struct{}
}

func NewSemaphoreControl() *SemaphoreControl {
	return &SemaphoreControl{slots: make(chan struct{}, MaxSemaphore)}
}

// Acquire 占一个槽位，满时阻塞等待，受 ctx 限时
func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire semaphore: %w", ctx.Err())
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.slots:
		return nil
	default:
		return errReleaseWithoutAcquire
	}
}
