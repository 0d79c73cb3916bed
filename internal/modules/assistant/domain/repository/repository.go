package repository

import (
	"context"

	"DeskPilot/internal/modules/assistant/domain/awareness"
	"DeskPilot/internal/modules/assistant/domain/memory"
	"DeskPilot/internal/modules/assistant/domain/notification"
)

// StateRepository 按 userID 存取的单条 JSON 状态；不存在时返回 (nil, nil)
type StateRepository[T any] interface {
	Get(ctx context.Context, userID string) (*T, error)
	Put(ctx context.Context, userID string, state *T) error
	Delete(ctx context.Context, userID string) error
}

type AwarenessRepository = StateRepository[awareness.State]

type MemoryRepository = StateRepository[memory.ShortTermMemory]

type SettingsRepository = StateRepository[notification.Settings]

// NotificationRepository 通知列表整体快照存取，顺序为最新在前
type NotificationRepository interface {
	LoadAll(ctx context.Context) ([]*notification.Notification, error)
	SaveAll(ctx context.Context, list []*notification.Notification) error
}
