package respond

import "DeskPilot/internal/modules/assistant/domain/notification"

type NotificationListRespond struct {
	List  []*notification.Notification `json:"list"`
	Total int                          `json:"total"`
}

type CountRespond struct {
	Count int `json:"count"`
}

type MarkReadRespond struct {
	Found bool `json:"found"`
}
