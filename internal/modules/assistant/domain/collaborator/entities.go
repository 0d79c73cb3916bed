package collaborator

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 业务接口找不到对应记录
var ErrNotFound = errors.New("collaborator: not found")

type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type Appointment struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	CustomerID   string    `json:"customerId"`
	CustomerName string    `json:"customerName,omitempty"`
	Title        string    `json:"title"`
	StartAt      time.Time `json:"startAt"`
	Location     string    `json:"location,omitempty"`
}

type ArchiveHit struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// CustomerDirectory 客户目录（仪表盘 CRM 接口）
type CustomerDirectory interface {
	SearchCustomers(ctx context.Context, userID, query string) ([]Customer, error)
	GetCustomer(ctx context.Context, userID, customerID string) (*Customer, error)
}

// AppointmentCalendar 日程接口
type AppointmentCalendar interface {
	CreateAppointment(ctx context.Context, userID string, appt Appointment) (*Appointment, error)
	SearchAppointments(ctx context.Context, userID, query string) ([]Appointment, error)
	// Upcoming 返回所有用户在 within 时间窗内即将开始的日程
	Upcoming(ctx context.Context, within time.Duration) ([]Appointment, error)
}

// ArchiveSearch 档案检索
type ArchiveSearch interface {
	SearchArchive(ctx context.Context, userID, query string) ([]ArchiveHit, error)
}

// RemoteNotification 远端通知创建请求体
type RemoteNotification struct {
	UserID   string                 `json:"userId"`
	Source   string                 `json:"source"`
	Category string                 `json:"category"`
	Type     string                 `json:"type"`
	TargetID string                 `json:"targetId,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Severity string                 `json:"severity,omitempty"`
}

// RemoteNotifier 远端通知服务，尽力而为，本地副本为准
type RemoteNotifier interface {
	CreateRemote(ctx context.Context, req RemoteNotification) (string, error)
}
