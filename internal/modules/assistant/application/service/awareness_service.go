package service

import (
	"context"
	"sync"
	"time"

	"DeskPilot/internal/modules/assistant/domain/awareness"
	"DeskPilot/internal/modules/assistant/domain/repository"
	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
)

// AwarenessService 记录用户最近接触的实体、最后意图和最后打开的页面
type AwarenessService interface {
	GetState(ctx context.Context, userID string) *awareness.State
	PushEntity(ctx context.Context, userID string, entity awareness.Entity) *awareness.State
	SetLastIntent(ctx context.Context, userID, intent string)
	SetLastOpened(ctx context.Context, userID, page, id string)
	LastEntityOfType(ctx context.Context, userID, entityType string) (awareness.Entity, bool)
	ClearContext(ctx context.Context, userID string)
}

type awarenessServiceImpl struct {
	repo repository.AwarenessRepository
	mu   sync.Mutex
	now  func() time.Time
}

func NewAwarenessService(repo repository.AwarenessRepository) AwarenessService {
	return &awarenessServiceImpl{repo: repo, now: time.Now}
}

func (s *awarenessServiceImpl) load(ctx context.Context, userID string) *awareness.State {
	st, err := s.repo.Get(ctx, userID)
	if err != nil {
		zlog.Warn("load awareness failed", zap.String("user_id", userID), zap.Error(err))
	}
	if st == nil {
		st = &awareness.State{UserID: userID, RecentEntities: []awareness.Entity{}}
	}
	return st
}

func (s *awarenessServiceImpl) save(ctx context.Context, st *awareness.State) {
	if err := s.repo.Put(ctx, st.UserID, st); err != nil {
		zlog.Warn("save awareness failed", zap.String("user_id", st.UserID), zap.Error(err))
	}
}

// update 读-改-写，整个过程持锁
func (s *awarenessServiceImpl) update(ctx context.Context, userID string, fn func(st *awareness.State)) *awareness.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.load(ctx, userID)
	fn(st)
	s.save(ctx, st)
	return st
}

// GetState 首次访问时惰性创建
func (s *awarenessServiceImpl) GetState(ctx context.Context, userID string) *awareness.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.repo.Get(ctx, userID)
	if err != nil {
		zlog.Warn("load awareness failed", zap.String("user_id", userID), zap.Error(err))
	}
	if st == nil {
		st = &awareness.State{UserID: userID, RecentEntities: []awareness.Entity{}}
		s.save(ctx, st)
	}
	return st
}

func (s *awarenessServiceImpl) PushEntity(ctx context.Context, userID string, entity awareness.Entity) *awareness.State {
	if entity.TS.IsZero() {
		entity.TS = s.now()
	}
	return s.update(ctx, userID, func(st *awareness.State) {
		st.PushEntity(entity)
	})
}

func (s *awarenessServiceImpl) SetLastIntent(ctx context.Context, userID, intent string) {
	s.update(ctx, userID, func(st *awareness.State) {
		st.LastIntent = &awareness.Intent{Name: intent, TS: s.now()}
	})
}

func (s *awarenessServiceImpl) SetLastOpened(ctx context.Context, userID, page, id string) {
	s.update(ctx, userID, func(st *awareness.State) {
		st.LastOpened = &awareness.Opened{Page: page, ID: id, TS: s.now()}
	})
}

func (s *awarenessServiceImpl) LastEntityOfType(ctx context.Context, userID, entityType string) (awareness.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, userID).LastOfType(entityType)
}

func (s *awarenessServiceImpl) ClearContext(ctx context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Delete(ctx, userID); err != nil {
		zlog.Warn("clear awareness failed", zap.String("user_id", userID), zap.Error(err))
	}
}
