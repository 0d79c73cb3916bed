package event

import (
	"DeskPilot/internal/modules/assistant/domain/assistant"
	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/internal/modules/assistant/infrastructure/eventbus"
	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
)

// 推送给前端的帧类型
const (
	FrameNotification   = "notification"
	FrameNavigation     = "navigation"
	FrameAssistantReply = "assistant_reply"
)

// Pusher 推送出口，由 ws.Hub 实现
type Pusher interface {
	Push(userID, typ string, payload interface{}) error
}

// BindPushBridge 把总线上的通知、导航、助手回复推给对应用户的连接；返回取消函数
func BindPushBridge(bus *eventbus.Bus, pusher Pusher) func() {
	push := func(userID, typ string, payload interface{}) {
		if err := pusher.Push(userID, typ, payload); err != nil {
			zlog.Warn("push frame failed", zap.String("user_id", userID), zap.String("type", typ), zap.Error(err))
		}
	}
	unsubs := []func(){
		bus.Notifications.Subscribe(eventbus.Func(func(n *notification.Notification) {
			push(n.UserID, FrameNotification, n)
		})),
		bus.Navigation.Subscribe(eventbus.Func(func(nav eventbus.Navigation) {
			push(nav.UserID, FrameNavigation, nav)
		})),
		bus.Replies.Subscribe(eventbus.Func(func(u assistant.Update) {
			push(u.UserID, FrameAssistantReply, u)
		})),
	}
	return func() {
		for _, un := range unsubs {
			un()
		}
	}
}

// ReplySink 把内核的每轮回复发到 Replies 主题
func ReplySink(bus *eventbus.Bus) assistant.MessageSink {
	return func(u assistant.Update) {
		bus.Replies.Publish(u)
	}
}
