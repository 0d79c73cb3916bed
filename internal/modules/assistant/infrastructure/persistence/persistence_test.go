package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"DeskPilot/internal/initial"
	"DeskPilot/internal/modules/assistant/domain/awareness"
	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/internal/modules/assistant/domain/repository"
	"DeskPilot/internal/modules/assistant/infrastructure/kv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSqlite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, initial.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newFileStore(t *testing.T) *kv.FileStore {
	t.Helper()
	s, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

var errStoreDown = errors.New("store down")

type brokenStateRepo[T any] struct{ calls int }

func (r *brokenStateRepo[T]) Get(context.Context, string) (*T, error) {
	r.calls++
	return nil, errStoreDown
}

func (r *brokenStateRepo[T]) Put(context.Context, string, *T) error {
	r.calls++
	return errStoreDown
}

func (r *brokenStateRepo[T]) Delete(context.Context, string) error {
	r.calls++
	return errStoreDown
}

type recordingNotificationRepo struct {
	mu    sync.Mutex
	saves [][]*notification.Notification
	err   error
}

func (r *recordingNotificationRepo) LoadAll(context.Context) ([]*notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if len(r.saves) == 0 {
		return nil, nil
	}
	return r.saves[len(r.saves)-1], nil
}

func (r *recordingNotificationRepo) SaveAll(_ context.Context, list []*notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saves = append(r.saves, list)
	return nil
}

func (r *recordingNotificationRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func sampleNotifications(ids ...string) []*notification.Notification {
	out := make([]*notification.Notification, 0, len(ids))
	for i, id := range ids {
		out = append(out, &notification.Notification{
			ID:        id,
			UserID:    "u1",
			Category:  notification.CategoryCustomer,
			Priority:  notification.PriorityNormal,
			Title:     "title " + id,
			Message:   "message " + id,
			Metadata:  map[string]interface{}{"n": float64(i)},
			CreatedAt: time.Date(2026, 1, 1, 10, i, 0, 0, time.UTC),
		})
	}
	return out
}

func TestGormStateRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormStateRepository[awareness.State](openSqlite(t), repository.TableAwarenessState)

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	st := &awareness.State{UserID: "u1", RecentEntities: []awareness.Entity{{Type: "customer", ID: "c1", Name: "Ahmad"}}}
	require.NoError(t, repo.Put(ctx, "u1", st))
	st.RecentEntities = append(st.RecentEntities, awareness.Entity{Type: "customer", ID: "c2"})
	require.NoError(t, repo.Put(ctx, "u1", st))

	got, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.RecentEntities, 2)

	require.NoError(t, repo.Delete(ctx, "u1"))
	got, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGormNotificationRepositoryKeepsOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository(openSqlite(t))

	require.NoError(t, repo.SaveAll(ctx, sampleNotifications("c", "b", "a")))
	list, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, float64(0), list[0].Metadata["n"])

	require.NoError(t, repo.SaveAll(ctx, sampleNotifications("d")))
	list, err = repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "d", list[0].ID)
}

func TestKVStateRepositoryMalformedJSON(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t)
	require.NoError(t, store.Set(ctx, "awareness:u1", []byte("{not json")))

	repo := NewKVStateRepository[awareness.State](store, "awareness")
	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestKVNotificationRepositoryMalformedJSON(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t)
	require.NoError(t, store.Set(ctx, notificationsKey, []byte("[{")))

	list, err := NewKVNotificationRepository(store).LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFallbackStateRepositoryIsSticky(t *testing.T) {
	ctx := context.Background()
	ladder := NewLadder()
	primary := &brokenStateRepo[awareness.State]{}
	repo := NewFallbackStateRepository[awareness.State](primary, NewKVStateRepository[awareness.State](newFileStore(t), "awareness"), ladder)

	require.NoError(t, repo.Put(ctx, "u1", &awareness.State{UserID: "u1"}))
	assert.True(t, ladder.Degraded())
	assert.Equal(t, 1, primary.calls)

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, 1, primary.calls)
}

func TestLadderIsSharedAcrossRepositories(t *testing.T) {
	ctx := context.Background()
	ladder := NewLadder()
	store := newFileStore(t)
	db := openSqlite(t)

	broken := NewFallbackStateRepository[awareness.State](&brokenStateRepo[awareness.State]{}, NewKVStateRepository[awareness.State](store, "awareness"), ladder)
	notifications := NewFallbackNotificationRepository(NewNotificationRepository(db), NewKVNotificationRepository(store), ladder)

	_, err := broken.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ladder.Degraded())

	require.NoError(t, notifications.SaveAll(ctx, sampleNotifications("x")))
	fromFlat, err := NewKVNotificationRepository(store).LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, fromFlat, 1)

	fromDB, err := NewNotificationRepository(db).LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, fromDB)
}

func TestNilLadderNeverDegrades(t *testing.T) {
	var l *Ladder
	l.Degrade("op", errStoreDown)
	assert.False(t, l.Degraded())
}

func TestWriteBufferCoalesces(t *testing.T) {
	repo := &recordingNotificationRepo{}
	buf := NewWriteBuffer(repo, 50*time.Millisecond)

	buf.Schedule(sampleNotifications("a"))
	buf.Schedule(sampleNotifications("b", "a"))
	buf.Schedule(sampleNotifications("c", "b", "a"))

	pending, dirty := buf.Pending()
	assert.True(t, dirty)
	assert.Len(t, pending, 3)

	require.Eventually(t, func() bool { return repo.saveCount() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, repo.saveCount())

	saved, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c", saved[0].ID)

	_, dirty = buf.Pending()
	assert.False(t, dirty)
}

func TestWriteBufferFlush(t *testing.T) {
	repo := &recordingNotificationRepo{}
	buf := NewWriteBuffer(repo, time.Hour)

	require.NoError(t, buf.Flush(context.Background()))
	assert.Equal(t, 0, repo.saveCount())

	buf.Schedule(sampleNotifications("a"))
	require.NoError(t, buf.Flush(context.Background()))
	assert.Equal(t, 1, repo.saveCount())

	repo.err = errStoreDown
	buf.Schedule(sampleNotifications("b"))
	assert.ErrorIs(t, buf.Flush(context.Background()), errStoreDown)
}

type gatedNotificationRepo struct {
	recordingNotificationRepo
	entered chan struct{}
	release chan struct{}
}

func (r *gatedNotificationRepo) SaveAll(ctx context.Context, list []*notification.Notification) error {
	r.entered <- struct{}{}
	<-r.release
	return r.recordingNotificationRepo.SaveAll(ctx, list)
}

func TestWriteBufferKeepsInflightSnapshotVisible(t *testing.T) {
	repo := &gatedNotificationRepo{entered: make(chan struct{}, 1), release: make(chan struct{})}
	buf := NewWriteBuffer(repo, time.Hour)
	buf.Schedule(sampleNotifications("a"))

	done := make(chan error, 1)
	go func() { done <- buf.Flush(context.Background()) }()
	<-repo.entered

	pending, dirty := buf.Pending()
	assert.True(t, dirty)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].ID)

	// 写入期间的新快照优先
	buf.Schedule(sampleNotifications("b", "a"))
	pending, _ = buf.Pending()
	assert.Len(t, pending, 2)

	close(repo.release)
	require.NoError(t, <-done)
	pending, dirty = buf.Pending()
	assert.True(t, dirty)
	assert.Len(t, pending, 2)

	require.NoError(t, buf.Flush(context.Background()))
	_, dirty = buf.Pending()
	assert.False(t, dirty)
}

func TestWriteBufferRetriesFailedFlush(t *testing.T) {
	repo := &recordingNotificationRepo{err: errStoreDown}
	buf := NewWriteBuffer(repo, time.Hour)

	buf.Schedule(sampleNotifications("a"))
	assert.ErrorIs(t, buf.Flush(context.Background()), errStoreDown)
	pending, dirty := buf.Pending()
	assert.True(t, dirty)
	assert.Len(t, pending, 1)

	repo.mu.Lock()
	repo.err = nil
	repo.mu.Unlock()
	require.NoError(t, buf.Flush(context.Background()))
	assert.Equal(t, 1, repo.saveCount())
}
