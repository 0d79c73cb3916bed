package persistence

import (
	"context"
	"sync"
	"time"

	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/internal/modules/assistant/domain/repository"
	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
)

// DefaultFlushDelay 写合并窗口
const DefaultFlushDelay = 300 * time.Millisecond

// WriteBuffer 写合并缓冲：窗口内多次 Schedule 只保留最后一个快照（last-write-wins），
// 窗口结束时一次性写入仓储。窗口不会因后续写入而顺延。
// 写入进行中的快照在 SaveAll 返回前仍通过 Pending 可见。
type WriteBuffer struct {
	repo  repository.NotificationRepository
	delay time.Duration

	flushMu  sync.Mutex
	mu       sync.Mutex
	pending  []*notification.Notification
	dirty    bool
	inflight []*notification.Notification
	flushing bool
	timer    *time.Timer
}

func NewWriteBuffer(repo repository.NotificationRepository, delay time.Duration) *WriteBuffer {
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	return &WriteBuffer{repo: repo, delay: delay}
}

// Schedule 记录最新快照，窗口内第一次调用时启动定时器
func (b *WriteBuffer) Schedule(snapshot []*notification.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = snapshot
	b.dirty = true
	if b.timer == nil {
		b.timer = time.AfterFunc(b.delay, func() {
			_ = b.Flush(context.Background())
		})
	}
}

// Pending 返回尚未落盘的快照，包括正在写入的那一份
func (b *WriteBuffer) Pending() ([]*notification.Notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dirty {
		return b.pending, true
	}
	return b.inflight, b.flushing
}

// Flush 立即写入待落盘快照；没有待写内容时直接返回
func (b *WriteBuffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if !b.dirty {
		b.mu.Unlock()
		return nil
	}
	snapshot := b.pending
	b.pending = nil
	b.dirty = false
	b.inflight = snapshot
	b.flushing = true
	b.mu.Unlock()

	err := b.repo.SaveAll(ctx, snapshot)

	b.mu.Lock()
	b.inflight = nil
	b.flushing = false
	if err != nil && !b.dirty {
		// 写失败且没有更新的快照，留到下一次 Flush 重试
		b.pending = snapshot
		b.dirty = true
	}
	b.mu.Unlock()

	if err != nil {
		zlog.Error("flush notifications failed", zap.Int("count", len(snapshot)), zap.Error(err))
		return err
	}
	return nil
}
