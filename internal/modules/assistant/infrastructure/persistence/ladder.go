package persistence

import (
	"sync/atomic"

	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
)

// Ladder 存储降级开关：结构化存储任意一步失败后，所有仓储永久切换到扁平 KV
type Ladder struct {
	degraded atomic.Bool
}

func NewLadder() *Ladder {
	return &Ladder{}
}

// Degraded 是否已降级
func (l *Ladder) Degraded() bool {
	return l != nil && l.degraded.Load()
}

// Degrade 标记降级，只在第一次记录日志
func (l *Ladder) Degrade(op string, err error) {
	if l == nil {
		return
	}
	if l.degraded.CompareAndSwap(false, true) {
		zlog.Warn("structured store unavailable, falling back to flat kv store",
			zap.String("op", op), zap.Error(err))
	}
}
