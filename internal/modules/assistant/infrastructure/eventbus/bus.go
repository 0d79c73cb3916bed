package eventbus

import (
	"DeskPilot/internal/modules/assistant/domain/assistant"
	"DeskPilot/internal/modules/assistant/domain/notification"
)

// Navigation 导航信号，由前端执行
type Navigation struct {
	UserID string `json:"userId"`
	Page   string `json:"page"`
	ID     string `json:"id,omitempty"`
}

// Notice 通知管道告知助手的外部事件
type Notice struct {
	UserID         string                `json:"userId"`
	NotificationID string                `json:"notificationId"`
	Category       notification.Category `json:"category"`
	Type           string                `json:"type"`
	Title          string                `json:"title"`
}

// Bus 进程内事件总线，按主题强类型划分
type Bus struct {
	Notifications   *Topic[*notification.Notification]
	Navigation      *Topic[Navigation]
	AssistantNotice *Topic[Notice]
	Incoming        *Topic[map[string]interface{}]
	Replies         *Topic[assistant.Update]
}

func New() *Bus {
	return &Bus{
		Notifications:   NewTopic[*notification.Notification]("notifications"),
		Navigation:      NewTopic[Navigation]("navigation"),
		AssistantNotice: NewTopic[Notice]("assistant_notice"),
		Incoming:        NewTopic[map[string]interface{}]("incoming"),
		Replies:         NewTopic[assistant.Update]("replies"),
	}
}
