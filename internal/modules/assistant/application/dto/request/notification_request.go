package request

import "DeskPilot/internal/modules/assistant/domain/notification"

type MarkReadRequest struct {
	ID   string `json:"id"`
	Read *bool  `json:"read,omitempty"`
}

type NotificationIDRequest struct {
	ID string `json:"id"`
}

// CreateNotificationRequest 接收者取自登录态
type CreateNotificationRequest struct {
	ID       string                 `json:"id,omitempty"`
	Source   string                 `json:"source"`
	Category notification.Category  `json:"category"`
	Type     string                 `json:"type"`
	TargetID string                 `json:"targetId,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Severity string                 `json:"severity,omitempty"`
}

type UpdateSettingsRequest struct {
	Enabled    bool                           `json:"enabled"`
	Categories map[notification.Category]bool `json:"categories"`
	Sound      bool                           `json:"sound"`
	Desktop    bool                           `json:"desktop"`
}

