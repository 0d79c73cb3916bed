package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"DeskPilot/internal/modules/assistant/domain/assistant"
	"DeskPilot/internal/modules/assistant/domain/notification"
)

// 外部事件字段别名，按顺序取第一个非空值
var (
	idAliases          = []string{"id", "_id", "notificationId", "notification_id"}
	userAliases        = []string{"userId", "user_id", "recipientId", "recipient_id"}
	categoryAliases    = []string{"category", "kind", "group"}
	priorityAliases    = []string{"priority", "severity", "level"}
	titleAliases       = []string{"title", "subject", "heading"}
	messageAliases     = []string{"message", "body", "content", "text"}
	relatedIDAliases   = []string{"relatedId", "related_id", "targetId", "target_id", "entityId"}
	relatedTypeAliases = []string{"relatedType", "related_type", "targetType", "entityType"}
	typeAliases        = []string{"type", "event", "eventType", "event_type"}
	sourceAliases      = []string{"source", "origin"}
	createdAliases     = []string{"createdAt", "created_at", "timestamp"}
	expiresAliases     = []string{"expiresAt", "expires_at"}
	metadataAliases    = []string{"metadata", "payload", "data"}
)

// ErrEmptyEvent 外部事件为空
var ErrEmptyEvent = errors.New("incoming notification is empty")

// HandleIncoming 把外部松散结构的事件规整为通知并入库；同一用户的重复 id 返回已有通知
func (s *notificationServiceImpl) HandleIncoming(ctx context.Context, raw map[string]interface{}) (*notification.Notification, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyEvent
	}
	userID := pickString(raw, userAliases)
	if userID == "" {
		return nil, ErrUserRequired
	}
	n := &notification.Notification{
		ID:          pickString(raw, idAliases),
		UserID:      userID,
		Category:    notification.Category(strings.ToLower(pickString(raw, categoryAliases))),
		Priority:    notification.PriorityFromSeverity(strings.ToLower(pickString(raw, priorityAliases))),
		Title:       pickString(raw, titleAliases),
		Message:     pickString(raw, messageAliases),
		Icon:        pickString(raw, []string{"icon"}),
		RelatedID:   pickString(raw, relatedIDAliases),
		RelatedType: pickString(raw, relatedTypeAliases),
		Type:        pickString(raw, typeAliases),
		Source:      pickString(raw, sourceAliases),
		Metadata:    pickMap(raw, metadataAliases),
		Actions:     pickActions(raw["actions"]),
		CreatedAt:   pickTime(raw, createdAliases),
	}
	if n.Title == "" {
		n.Title = humanize(n.Type)
	}
	if t := pickTime(raw, expiresAliases); !t.IsZero() {
		n.ExpiresAt = &t
	}
	if read, ok := raw["read"].(bool); ok && read {
		n.Read = true
		readAt := s.now()
		n.ReadAt = &readAt
	}
	stored, _, err := s.push(ctx, n)
	return stored, err
}

// AssignIncomingOwner 去掉事件里所有接收者别名，改为指定用户
func AssignIncomingOwner(raw map[string]interface{}, userID string) {
	for _, k := range userAliases {
		delete(raw, k)
	}
	raw["userId"] = userID
}

func pickString(raw map[string]interface{}, keys []string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case json.Number:
			return v.String()
		case fmt.Stringer:
			return v.String()
		}
	}
	return ""
}

func pickMap(raw map[string]interface{}, keys []string) map[string]interface{} {
	for _, k := range keys {
		if m, ok := raw[k].(map[string]interface{}); ok && len(m) > 0 {
			return m
		}
	}
	return nil
}

// pickTime 支持 RFC3339 字符串和 unix 毫秒/秒
func pickTime(raw map[string]interface{}, keys []string) time.Time {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case time.Time:
			return v
		case string:
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(v)); err == nil {
				return t
			}
		case float64:
			return unixTime(int64(v))
		case int64:
			return unixTime(v)
		case int:
			return unixTime(int64(v))
		}
	}
	return time.Time{}
}

func unixTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	// 大于 1e12 视为毫秒
	if v > 1e12 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}

// pickActions 通过 JSON 往返把任意结构转成 Action 列表，失败时丢弃
func pickActions(v interface{}) []assistant.Action {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var actions []assistant.Action
	if err := json.Unmarshal(b, &actions); err != nil {
		return nil
	}
	return actions
}
