package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"DeskPilot/internal/modules/assistant/domain/repository"
	"DeskPilot/internal/modules/assistant/infrastructure/kv"
	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormStateRepositoryImpl[T any] struct {
	db    *gorm.DB
	table string
}

// NewGormStateRepository 结构化存储中的按用户状态表
func NewGormStateRepository[T any](db *gorm.DB, table string) repository.StateRepository[T] {
	return &gormStateRepositoryImpl[T]{db: db, table: table}
}

func (r *gormStateRepositoryImpl[T]) Get(ctx context.Context, userID string) (*T, error) {
	var rec repository.StateRecord
	err := r.db.WithContext(ctx).Table(r.table).Where("user_id = ?", userID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeState[T](r.table, userID, []byte(rec.Payload)), nil
}

func (r *gormStateRepositoryImpl[T]) Put(ctx context.Context, userID string, state *T) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	rec := repository.StateRecord{UserID: userID, Payload: string(b), UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).Table(r.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&rec).Error
}

func (r *gormStateRepositoryImpl[T]) Delete(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Table(r.table).Where("user_id = ?", userID).Delete(&repository.StateRecord{}).Error
}

type kvStateRepositoryImpl[T any] struct {
	store  kv.Store
	prefix string
}

// NewKVStateRepository 扁平 KV 中的按用户状态，key 为 prefix:userID
func NewKVStateRepository[T any](store kv.Store, prefix string) repository.StateRepository[T] {
	return &kvStateRepositoryImpl[T]{store: store, prefix: prefix}
}

func (r *kvStateRepositoryImpl[T]) key(userID string) string {
	return r.prefix + ":" + userID
}

func (r *kvStateRepositoryImpl[T]) Get(ctx context.Context, userID string) (*T, error) {
	b, err := r.store.Get(ctx, r.key(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeState[T](r.prefix, userID, b), nil
}

func (r *kvStateRepositoryImpl[T]) Put(ctx context.Context, userID string, state *T) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, r.key(userID), b)
}

func (r *kvStateRepositoryImpl[T]) Delete(ctx context.Context, userID string) error {
	return r.store.Delete(ctx, r.key(userID))
}

// decodeState 反序列化失败时按空状态处理
func decodeState[T any](kind, userID string, b []byte) *T {
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		zlog.Warn("malformed persisted state, using default",
			zap.String("kind", kind), zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return &out
}

type fallbackStateRepositoryImpl[T any] struct {
	primary   repository.StateRepository[T]
	secondary repository.StateRepository[T]
	ladder    *Ladder
}

// NewFallbackStateRepository primary 失败时静默切换到 secondary；primary 可为 nil
func NewFallbackStateRepository[T any](primary, secondary repository.StateRepository[T], ladder *Ladder) repository.StateRepository[T] {
	return &fallbackStateRepositoryImpl[T]{primary: primary, secondary: secondary, ladder: ladder}
}

func (r *fallbackStateRepositoryImpl[T]) usePrimary() bool {
	return r.primary != nil && !r.ladder.Degraded()
}

func (r *fallbackStateRepositoryImpl[T]) Get(ctx context.Context, userID string) (*T, error) {
	if r.usePrimary() {
		v, err := r.primary.Get(ctx, userID)
		if err == nil {
			return v, nil
		}
		r.ladder.Degrade("state.get", err)
	}
	return r.secondary.Get(ctx, userID)
}

func (r *fallbackStateRepositoryImpl[T]) Put(ctx context.Context, userID string, state *T) error {
	if r.usePrimary() {
		err := r.primary.Put(ctx, userID, state)
		if err == nil {
			return nil
		}
		r.ladder.Degrade("state.put", err)
	}
	return r.secondary.Put(ctx, userID, state)
}

func (r *fallbackStateRepositoryImpl[T]) Delete(ctx context.Context, userID string) error {
	if r.usePrimary() {
		err := r.primary.Delete(ctx, userID)
		if err == nil {
			return nil
		}
		r.ladder.Degrade("state.delete", err)
	}
	return r.secondary.Delete(ctx, userID)
}
