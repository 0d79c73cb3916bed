package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"DeskPilot/internal/modules/assistant/application/service"
	"DeskPilot/internal/modules/assistant/domain/collaborator"
	"DeskPilot/pkg/zlog"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ReminderManager 定时拉取即将开始的日程并生成提醒通知
type ReminderManager struct {
	cron          *cron.Cron
	spec          string
	lookahead     time.Duration
	calendar      collaborator.AppointmentCalendar
	notifications service.NotificationService

	mu      sync.Mutex
	running bool
}

// NewReminderManager spec 为标准 5 段 cron 表达式（不含秒）
func NewReminderManager(spec string, lookahead time.Duration, calendar collaborator.AppointmentCalendar,
	notifications service.NotificationService) *ReminderManager {
	return &ReminderManager{
		cron:          cron.New(),
		spec:          spec,
		lookahead:     lookahead,
		calendar:      calendar,
		notifications: notifications,
	}
}

func (m *ReminderManager) Start() error {
	if m.calendar == nil {
		return fmt.Errorf("reminder scheduler: calendar not configured")
	}
	if _, err := m.cron.AddFunc(m.spec, func() {
		m.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("reminder scheduler: %w", err)
	}
	m.cron.Start()
	zlog.Info("reminder scheduler started", zap.String("spec", m.spec), zap.Duration("lookahead", m.lookahead))
	return nil
}

// Stop 等待正在执行的任务结束
func (m *ReminderManager) Stop() {
	<-m.cron.Stop().Done()
}

// RunOnce 执行一轮扫描，返回新生成的提醒数；上一轮未结束时直接跳过
func (m *ReminderManager) RunOnce(ctx context.Context) int {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return 0
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	appts, err := m.calendar.Upcoming(ctx, m.lookahead)
	if err != nil {
		zlog.Warn("load upcoming appointments failed", zap.Error(err))
		return 0
	}
	before := make(map[string]bool)
	created := 0
	for _, a := range appts {
		if a.UserID == "" || before[a.ID] {
			continue
		}
		before[a.ID] = true
		unread := m.notifications.CountUnread(ctx, a.UserID)
		if _, err := m.notifications.NotifyAppointmentReminder(ctx, a.UserID, a); err != nil {
			zlog.Warn("appointment reminder failed", zap.String("appointment_id", a.ID), zap.Error(err))
			continue
		}
		if m.notifications.CountUnread(ctx, a.UserID) > unread {
			created++
		}
	}
	return created
}
