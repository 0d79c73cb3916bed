package event

import (
	"context"
	"encoding/json"
	"fmt"

	"DeskPilot/internal/modules/assistant/application/service"
	"DeskPilot/internal/modules/assistant/infrastructure/mq"
	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
)

// DomainEventHandler 消费业务事件主题，把每条消息当作外部通知写入管道
type DomainEventHandler struct {
	notifications service.NotificationService
}

func NewDomainEventHandler(notifications service.NotificationService) *DomainEventHandler {
	return &DomainEventHandler{notifications: notifications}
}

var _ mq.Handler = (*DomainEventHandler)(nil)

// Handle 消息头里的 user_id 在消息体缺少接收者时补上
func (h *DomainEventHandler) Handle(ctx context.Context, msg mq.Message) error {
	raw := map[string]interface{}{}
	if err := json.Unmarshal(msg.Value, &raw); err != nil {
		return fmt.Errorf("decode domain event: %w", err)
	}
	if uid, ok := msg.Headers["user_id"]; ok && uid != "" {
		if _, exists := raw["userId"]; !exists {
			raw["userId"] = uid
		}
	}
	n, err := h.notifications.HandleIncoming(ctx, raw)
	if err != nil {
		zlog.Warn("domain event rejected", zap.String("topic", msg.Topic), zap.Error(err))
		return err
	}
	zlog.Debug("domain event ingested", zap.String("topic", msg.Topic), zap.String("id", n.ID))
	return nil
}
