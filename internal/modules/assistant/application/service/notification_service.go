package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"DeskPilot/internal/modules/assistant/domain/assistant"
	"DeskPilot/internal/modules/assistant/domain/collaborator"
	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/internal/modules/assistant/domain/repository"
	"DeskPilot/internal/modules/assistant/infrastructure/eventbus"
	"DeskPilot/internal/modules/assistant/infrastructure/persistence"
	"DeskPilot/pkg/util"
	"DeskPilot/pkg/zlog"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	storeCacheKey       = "notifications"
	defaultReadCacheTTL = time.Second
	recentSummarySize   = 5
)

// AINotificationInput 助手/外部来源创建通知的入参
type AINotificationInput struct {
	ID       string                 `json:"id,omitempty"`
	UserID   string                 `json:"userId"`
	Source   string                 `json:"source"`
	Category notification.Category  `json:"category"`
	Type     string                 `json:"type"`
	TargetID string                 `json:"targetId,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Severity string                 `json:"severity,omitempty"`
}

// NotificationInput 通用创建入参
type NotificationInput struct {
	ID          string                 `json:"id,omitempty"`
	UserID      string                 `json:"userId"`
	Category    notification.Category  `json:"category"`
	Priority    notification.Priority  `json:"priority,omitempty"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Icon        string                 `json:"icon,omitempty"`
	RelatedID   string                 `json:"relatedId,omitempty"`
	RelatedType string                 `json:"relatedType,omitempty"`
	Source      string                 `json:"source,omitempty"`
	Type        string                 `json:"type,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Actions     []assistant.Action     `json:"actions,omitempty"`
	CreatedAt   time.Time              `json:"createdAt,omitempty"`
	ExpiresAt   *time.Time             `json:"expiresAt,omitempty"`
}

// NotificationOptions 通知管道参数，零值使用默认值
type NotificationOptions struct {
	MaxStored       int
	FlushDelay      time.Duration
	ReadCacheTTL    time.Duration
	EnforceSettings bool
}

var (
	// ErrUserRequired 缺少 userID
	ErrUserRequired = errors.New("user id is required")
	// ErrIDConflict 通知 id 已被其他用户占用
	ErrIDConflict = errors.New("notification id belongs to another user")
)

// NotificationService 通知管道：去重、持久化、订阅分发与查询
type NotificationService interface {
	CreateAINotification(ctx context.Context, in AINotificationInput) (*notification.Notification, error)
	CreateNotification(ctx context.Context, in NotificationInput) (*notification.Notification, error)

	NotifyCustomerCreated(ctx context.Context, userID string, customer collaborator.Customer) (*notification.Notification, error)
	NotifyAppointmentReminder(ctx context.Context, userID string, appt collaborator.Appointment) (*notification.Notification, error)
	NotifyListingPublished(ctx context.Context, userID, listingID, title string) (*notification.Notification, error)
	NotifyRequestReceived(ctx context.Context, userID, requestID, from string) (*notification.Notification, error)
	NotifyOfferReceived(ctx context.Context, userID, offerID, from, summary string) (*notification.Notification, error)
	NotifyBusinessCardViewed(ctx context.Context, userID, viewer string) (*notification.Notification, error)
	NotifySystem(ctx context.Context, userID, title, message string, priority notification.Priority) (*notification.Notification, error)

	HandleIncoming(ctx context.Context, raw map[string]interface{}) (*notification.Notification, error)
	BindEventBus(bus *eventbus.Bus) bool
	Subscribe(sub eventbus.Subscriber[*notification.Notification]) func()

	List(ctx context.Context, filter notification.Filter) []*notification.Notification
	CountUnread(ctx context.Context, userID string) int
	MarkRead(ctx context.Context, userID, id string, read bool) bool
	MarkAllRead(ctx context.Context, userID string) int
	Delete(ctx context.Context, userID, id string) bool
	DeleteRead(ctx context.Context, userID string) int
	PurgeExpired(ctx context.Context, userID string, now time.Time) int
	Analyze(ctx context.Context, userID string) notification.Summary
	OpenCalendar(ctx context.Context, userID, appointmentID string)

	GetSettings(ctx context.Context, userID string) notification.Settings
	UpdateSettings(ctx context.Context, settings notification.Settings) (notification.Settings, error)

	Flush(ctx context.Context) error
}

type notificationServiceImpl struct {
	repo     repository.NotificationRepository
	settings repository.SettingsRepository
	remote   collaborator.RemoteNotifier
	bus      *eventbus.Bus
	buffer   *persistence.WriteBuffer
	cache    *cache.Cache
	opts     NotificationOptions

	mu       sync.Mutex
	bindMu   sync.Mutex
	boundBus *eventbus.Bus
	incoming eventbus.Subscriber[map[string]interface{}]
	now      func() time.Time
}

// NewNotificationService remote 可为 nil（只保留本地副本）；bus 为 nil 时自建
func NewNotificationService(repo repository.NotificationRepository, settings repository.SettingsRepository,
	remote collaborator.RemoteNotifier, bus *eventbus.Bus, opts NotificationOptions) NotificationService {
	if opts.MaxStored <= 0 {
		opts.MaxStored = notification.MaxStored
	}
	if opts.ReadCacheTTL <= 0 {
		opts.ReadCacheTTL = defaultReadCacheTTL
	}
	if bus == nil {
		bus = eventbus.New()
	}
	s := &notificationServiceImpl{
		repo:     repo,
		settings: settings,
		remote:   remote,
		bus:      bus,
		buffer:   persistence.NewWriteBuffer(repo, opts.FlushDelay),
		cache:    cache.New(opts.ReadCacheTTL, 2*opts.ReadCacheTTL),
		opts:     opts,
		now:      time.Now,
	}
	s.incoming = eventbus.Func(func(raw map[string]interface{}) {
		if _, err := s.HandleIncoming(context.Background(), raw); err != nil {
			zlog.Warn("drop incoming notification", zap.Error(err))
		}
	})
	return s
}

// snapshot 读取当前列表：缓存 -> 未落盘快照 -> 仓储。调用方需持有 mu
func (s *notificationServiceImpl) snapshot(ctx context.Context) []*notification.Notification {
	if v, ok := s.cache.Get(storeCacheKey); ok {
		return v.([]*notification.Notification)
	}
	if pending, dirty := s.buffer.Pending(); dirty {
		s.cache.SetDefault(storeCacheKey, pending)
		return pending
	}
	list, err := s.repo.LoadAll(ctx)
	if err != nil {
		zlog.Warn("load notifications failed, serving empty list", zap.Error(err))
		list = nil
	}
	if list == nil {
		list = []*notification.Notification{}
	}
	s.cache.SetDefault(storeCacheKey, list)
	return list
}

// commit 替换当前列表并安排延迟写入。调用方需持有 mu
func (s *notificationServiceImpl) commit(list []*notification.Notification) {
	s.cache.SetDefault(storeCacheKey, list)
	s.buffer.Schedule(list)
}

// mutate 写时复制：fn 返回新列表和变更数量，变更数为 0 时不落盘
func (s *notificationServiceImpl) mutate(ctx context.Context, fn func(list []*notification.Notification) ([]*notification.Notification, int)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, changed := fn(s.snapshot(ctx))
	if changed > 0 {
		s.commit(next)
	}
	return changed
}

func (s *notificationServiceImpl) normalize(n *notification.Notification) {
	if n.ID == "" {
		n.ID = util.GenerateUUID()
	}
	if !n.Category.Valid() {
		n.Category = notification.CategorySystem
	}
	if !n.Priority.Valid() {
		n.Priority = notification.PriorityNormal
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if n.Icon == "" {
		n.Icon = categoryIcons[n.Category]
	}
}

// push 内部入库：全量扫描去重，最新在前，超出上限淘汰最旧，随后同步分发。
// 同一用户的重复 id 返回已有通知；id 属于其他用户时返回 ErrIDConflict
func (s *notificationServiceImpl) push(ctx context.Context, n *notification.Notification) (*notification.Notification, bool, error) {
	s.normalize(n)

	settings := s.GetSettings(ctx, n.UserID)
	if !settings.Allows(n.Category) {
		zlog.Info("notification category disabled by settings",
			zap.String("user_id", n.UserID), zap.String("category", string(n.Category)),
			zap.Bool("enforced", s.opts.EnforceSettings))
		if s.opts.EnforceSettings {
			return n, false, nil
		}
	}

	s.mu.Lock()
	list := s.snapshot(ctx)
	for _, existing := range list {
		if existing.ID != n.ID {
			continue
		}
		s.mu.Unlock()
		if existing.UserID != n.UserID {
			zlog.Warn("notification id owned by another user",
				zap.String("id", n.ID), zap.String("user_id", n.UserID))
			return nil, false, ErrIDConflict
		}
		zlog.Debug("duplicate notification ignored", zap.String("id", n.ID))
		cp := *existing
		return &cp, false, nil
	}
	size := len(list) + 1
	if size > s.opts.MaxStored {
		size = s.opts.MaxStored
	}
	next := make([]*notification.Notification, 0, size)
	next = append(next, n)
	next = append(next, list[:size-1]...)
	s.commit(next)
	s.mu.Unlock()

	s.bus.Notifications.Publish(n)
	return n, true, nil
}

func (s *notificationServiceImpl) CreateNotification(ctx context.Context, in NotificationInput) (*notification.Notification, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, ErrUserRequired
	}
	n := &notification.Notification{
		ID:          in.ID,
		UserID:      in.UserID,
		Category:    in.Category,
		Priority:    in.Priority,
		Title:       in.Title,
		Message:     in.Message,
		Icon:        in.Icon,
		RelatedID:   in.RelatedID,
		RelatedType: in.RelatedType,
		Source:      in.Source,
		Type:        in.Type,
		Metadata:    in.Metadata,
		Actions:     in.Actions,
		CreatedAt:   in.CreatedAt,
		ExpiresAt:   in.ExpiresAt,
	}
	stored, _, err := s.push(ctx, n)
	return stored, err
}

// CreateAINotification 先尽力调用远端创建，失败只记日志；id 优先取远端返回值
func (s *notificationServiceImpl) CreateAINotification(ctx context.Context, in AINotificationInput) (*notification.Notification, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, ErrUserRequired
	}
	id := in.ID
	if s.remote != nil {
		remoteID, err := s.remote.CreateRemote(ctx, collaborator.RemoteNotification{
			UserID:   in.UserID,
			Source:   in.Source,
			Category: string(in.Category),
			Type:     in.Type,
			TargetID: in.TargetID,
			Payload:  in.Payload,
			Severity: in.Severity,
		})
		if err != nil {
			zlog.Debug("remote notification create failed", zap.String("type", in.Type), zap.Error(err))
		} else if remoteID != "" {
			id = remoteID
		}
	}

	title := stringField(in.Payload, "title")
	if title == "" {
		title = humanize(in.Type)
	}
	message := stringField(in.Payload, "message")
	if message == "" {
		message = fmt.Sprintf("%s from %s", title, orDefault(in.Source, "assistant"))
	}
	n := &notification.Notification{
		ID:          id,
		UserID:      in.UserID,
		Category:    in.Category,
		Priority:    notification.PriorityFromSeverity(in.Severity),
		Title:       title,
		Message:     message,
		RelatedID:   in.TargetID,
		RelatedType: stringField(in.Payload, "targetType"),
		Source:      in.Source,
		Type:        in.Type,
		Metadata:    in.Payload,
	}
	stored, accepted, err := s.push(ctx, n)
	if err != nil {
		return nil, err
	}
	if accepted {
		s.bus.AssistantNotice.Publish(eventbus.Notice{
			UserID:         stored.UserID,
			NotificationID: stored.ID,
			Category:       stored.Category,
			Type:           stored.Type,
			Title:          stored.Title,
		})
	}
	return stored, nil
}

func (s *notificationServiceImpl) Subscribe(sub eventbus.Subscriber[*notification.Notification]) func() {
	return s.bus.Notifications.Subscribe(sub)
}

// BindEventBus 把 Incoming 主题接入 HandleIncoming，同一进程只挂一次；返回本次是否新挂载
func (s *notificationServiceImpl) BindEventBus(bus *eventbus.Bus) bool {
	if bus == nil {
		return false
	}
	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	if s.boundBus != nil {
		return false
	}
	bus.Incoming.Subscribe(s.incoming)
	s.boundBus = bus
	return true
}

func (s *notificationServiceImpl) List(ctx context.Context, filter notification.Filter) []*notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*notification.Notification, 0)
	for _, n := range s.snapshot(ctx) {
		if filter.Match(n) {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out
}

func (s *notificationServiceImpl) CountUnread(ctx context.Context, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.snapshot(ctx) {
		if !n.Read && (userID == "" || n.UserID == userID) {
			count++
		}
	}
	return count
}

// MarkRead 返回是否找到该用户的这条通知
func (s *notificationServiceImpl) MarkRead(ctx context.Context, userID, id string, read bool) bool {
	if userID == "" {
		return false
	}
	return s.mutate(ctx, func(list []*notification.Notification) ([]*notification.Notification, int) {
		for i, n := range list {
			if n.ID != id || n.UserID != userID {
				continue
			}
			next := append([]*notification.Notification(nil), list...)
			cp := *n
			cp.Read = read
			cp.ReadAt = nil
			if read {
				now := s.now()
				cp.ReadAt = &now
			}
			next[i] = &cp
			return next, 1
		}
		return list, 0
	}) > 0
}

// MarkAllRead 只修改该用户的未读通知，返回修改条数
func (s *notificationServiceImpl) MarkAllRead(ctx context.Context, userID string) int {
	return s.mutate(ctx, func(list []*notification.Notification) ([]*notification.Notification, int) {
		now := s.now()
		next := make([]*notification.Notification, len(list))
		changed := 0
		for i, n := range list {
			next[i] = n
			if n.UserID == userID && !n.Read {
				cp := *n
				cp.Read = true
				readAt := now
				cp.ReadAt = &readAt
				next[i] = &cp
				changed++
			}
		}
		return next, changed
	})
}

func (s *notificationServiceImpl) Delete(ctx context.Context, userID, id string) bool {
	if userID == "" {
		return false
	}
	return s.removeWhere(ctx, func(n *notification.Notification) bool {
		return n.ID == id && n.UserID == userID
	}) > 0
}

// DeleteRead 删除该用户全部已读通知，返回删除条数
func (s *notificationServiceImpl) DeleteRead(ctx context.Context, userID string) int {
	return s.removeWhere(ctx, func(n *notification.Notification) bool {
		return n.UserID == userID && n.Read
	})
}

// PurgeExpired 显式清理该用户的过期通知，不会自动触发
func (s *notificationServiceImpl) PurgeExpired(ctx context.Context, userID string, now time.Time) int {
	if userID == "" {
		return 0
	}
	return s.removeWhere(ctx, func(n *notification.Notification) bool {
		return n.UserID == userID && n.Expired(now)
	})
}

func (s *notificationServiceImpl) removeWhere(ctx context.Context, match func(n *notification.Notification) bool) int {
	return s.mutate(ctx, func(list []*notification.Notification) ([]*notification.Notification, int) {
		next := make([]*notification.Notification, 0, len(list))
		for _, n := range list {
			if !match(n) {
				next = append(next, n)
			}
		}
		return next, len(list) - len(next)
	})
}

// Analyze 按来源/分类/类型统计，并附带最近 5 条
func (s *notificationServiceImpl) Analyze(ctx context.Context, userID string) notification.Summary {
	sum := notification.Summary{
		BySource:   map[string]int{},
		ByCategory: map[notification.Category]int{},
		ByType:     map[string]int{},
		Recent:     []*notification.Notification{},
	}
	for _, n := range s.List(ctx, notification.Filter{UserID: userID}) {
		sum.Total++
		if !n.Read {
			sum.Unread++
		}
		sum.BySource[orDefault(n.Source, "unknown")]++
		sum.ByCategory[n.Category]++
		sum.ByType[orDefault(n.Type, "unknown")]++
		if len(sum.Recent) < recentSummarySize {
			sum.Recent = append(sum.Recent, n)
		}
	}
	return sum
}

// OpenCalendar 发出打开日程页的导航事件
func (s *notificationServiceImpl) OpenCalendar(ctx context.Context, userID, appointmentID string) {
	s.bus.Navigation.Publish(eventbus.Navigation{UserID: userID, Page: "calendar", ID: appointmentID})
}

// GetSettings 未保存过时返回默认设置；已保存但缺失的分类视为关闭
func (s *notificationServiceImpl) GetSettings(ctx context.Context, userID string) notification.Settings {
	if s.settings == nil {
		return notification.DefaultSettings(userID)
	}
	stored, err := s.settings.Get(ctx, userID)
	if err != nil {
		zlog.Warn("load notification settings failed", zap.String("user_id", userID), zap.Error(err))
	}
	if stored == nil {
		return notification.DefaultSettings(userID)
	}
	return mergeSettings(userID, *stored)
}

func (s *notificationServiceImpl) UpdateSettings(ctx context.Context, settings notification.Settings) (notification.Settings, error) {
	if strings.TrimSpace(settings.UserID) == "" {
		return settings, ErrUserRequired
	}
	merged := mergeSettings(settings.UserID, settings)
	if s.settings == nil {
		return merged, nil
	}
	if err := s.settings.Put(ctx, merged.UserID, &merged); err != nil {
		return merged, fmt.Errorf("save notification settings: %w", err)
	}
	return merged, nil
}

func mergeSettings(userID string, in notification.Settings) notification.Settings {
	out := in
	out.UserID = userID
	out.Categories = make(map[notification.Category]bool, len(notification.AllCategories))
	for _, c := range notification.AllCategories {
		out.Categories[c] = in.Categories[c]
	}
	return out
}

// Flush 立即落盘，用于退出前
func (s *notificationServiceImpl) Flush(ctx context.Context) error {
	return s.buffer.Flush(ctx)
}

var categoryIcons = map[notification.Category]string{
	notification.CategoryCustomer:     "user",
	notification.CategoryAppointment:  "calendar",
	notification.CategoryProperty:     "home",
	notification.CategoryPlatform:     "globe",
	notification.CategorySocial:       "share",
	notification.CategoryBusinessCard: "id-card",
	notification.CategoryAnalytics:    "chart",
	notification.CategoryRequest:      "inbox",
	notification.CategoryOffer:        "tag",
	notification.CategorySystem:       "bell",
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// humanize customer_created -> Customer created
func humanize(s string) string {
	s = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(s))
	if s == "" {
		return "Notification"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
