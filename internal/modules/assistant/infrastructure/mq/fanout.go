package mq

import (
	"context"
	"encoding/json"
	"time"

	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
)

const fanoutTimeout = 5 * time.Second

// NotificationFanout 把入库的通知异步转发到外部主题，尽力而为
type NotificationFanout struct {
	pub   Publisher
	topic string
}

func NewNotificationFanout(pub Publisher, topic string) *NotificationFanout {
	return &NotificationFanout{pub: pub, topic: topic}
}

// Handle 实现 eventbus.Subscriber，不阻塞同步分发
func (f *NotificationFanout) Handle(n *notification.Notification) {
	if f == nil || f.pub == nil || n == nil {
		return
	}
	value, err := json.Marshal(n)
	if err != nil {
		zlog.Warn("marshal notification for fanout failed", zap.String("id", n.ID), zap.Error(err))
		return
	}
	msg := Message{
		Topic:   f.topic,
		Key:     []byte(n.UserID),
		Value:   value,
		Headers: map[string]string{"category": string(n.Category), "type": n.Type},
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
		defer cancel()
		if _, err := f.pub.Publish(ctx, msg); err != nil {
			zlog.Warn("notification fanout failed", zap.String("id", n.ID), zap.Error(err))
		}
	}()
}
