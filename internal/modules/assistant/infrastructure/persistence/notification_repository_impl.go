package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/internal/modules/assistant/domain/repository"
	"DeskPilot/internal/modules/assistant/infrastructure/kv"
	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type notificationRepositoryImpl struct {
	db *gorm.DB
}

// NewNotificationRepository 结构化存储的通知仓储，一行一条通知
func NewNotificationRepository(db *gorm.DB) repository.NotificationRepository {
	return &notificationRepositoryImpl{db: db}
}

func (r *notificationRepositoryImpl) LoadAll(ctx context.Context) ([]*notification.Notification, error) {
	var records []notification.Record
	err := r.db.WithContext(ctx).
		Order("seq DESC").
		Limit(notification.MaxStored).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	list := make([]*notification.Notification, 0, len(records))
	for _, rec := range records {
		list = append(list, rec.ToEntity())
	}
	return list, nil
}

// SaveAll 在一个事务里整体替换快照
func (r *notificationRepositoryImpl) SaveAll(ctx context.Context, list []*notification.Notification) error {
	records := make([]notification.Record, 0, len(list))
	for i, n := range list {
		records = append(records, notification.ToRecord(n, int64(len(list)-i)))
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&notification.Record{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, 200).Error
	})
}

const notificationsKey = "notifications"

type kvNotificationRepositoryImpl struct {
	store kv.Store
}

// NewKVNotificationRepository 扁平 KV 中整个列表存成一个 JSON 数组
func NewKVNotificationRepository(store kv.Store) repository.NotificationRepository {
	return &kvNotificationRepositoryImpl{store: store}
}

func (r *kvNotificationRepositoryImpl) LoadAll(ctx context.Context) ([]*notification.Notification, error) {
	b, err := r.store.Get(ctx, notificationsKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []*notification.Notification
	if err := json.Unmarshal(b, &list); err != nil {
		zlog.Warn("malformed persisted notifications, starting empty", zap.Error(err))
		return nil, nil
	}
	if len(list) > notification.MaxStored {
		list = list[:notification.MaxStored]
	}
	return list, nil
}

func (r *kvNotificationRepositoryImpl) SaveAll(ctx context.Context, list []*notification.Notification) error {
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, notificationsKey, b)
}

type fallbackNotificationRepositoryImpl struct {
	primary   repository.NotificationRepository
	secondary repository.NotificationRepository
	ladder    *Ladder
}

// NewFallbackNotificationRepository primary 失败时静默切换到 secondary；primary 可为 nil
func NewFallbackNotificationRepository(primary, secondary repository.NotificationRepository, ladder *Ladder) repository.NotificationRepository {
	return &fallbackNotificationRepositoryImpl{primary: primary, secondary: secondary, ladder: ladder}
}

func (r *fallbackNotificationRepositoryImpl) LoadAll(ctx context.Context) ([]*notification.Notification, error) {
	if r.primary != nil && !r.ladder.Degraded() {
		list, err := r.primary.LoadAll(ctx)
		if err == nil {
			return list, nil
		}
		r.ladder.Degrade("notification.load", err)
	}
	return r.secondary.LoadAll(ctx)
}

func (r *fallbackNotificationRepositoryImpl) SaveAll(ctx context.Context, list []*notification.Notification) error {
	if r.primary != nil && !r.ladder.Degraded() {
		err := r.primary.SaveAll(ctx, list)
		if err == nil {
			return nil
		}
		r.ladder.Degrade("notification.save", err)
	}
	return r.secondary.SaveAll(ctx, list)
}
