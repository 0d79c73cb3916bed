package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/internal/modules/assistant/infrastructure/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanPublisher struct {
	msgs chan Message
	err  error
}

func (p *chanPublisher) Publish(_ context.Context, msg Message) (PublishResult, error) {
	p.msgs <- msg
	return PublishResult{}, p.err
}

func (p *chanPublisher) Close() error { return nil }

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
		return Message{}
	}
}

func TestFanoutPublishesNotification(t *testing.T) {
	pub := &chanPublisher{msgs: make(chan Message, 1)}
	bus := eventbus.New()
	defer bus.Notifications.Subscribe(NewNotificationFanout(pub, "dashboard.notifications"))()

	bus.Notifications.Publish(&notification.Notification{
		ID: "n1", UserID: "u1", Category: notification.CategoryOffer, Type: "offer_received", Title: "New offer",
	})

	msg := receive(t, pub.msgs)
	assert.Equal(t, "dashboard.notifications", msg.Topic)
	assert.Equal(t, []byte("u1"), msg.Key)
	assert.Equal(t, "offer", msg.Headers["category"])
	assert.Equal(t, "offer_received", msg.Headers["type"])

	var got notification.Notification
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "n1", got.ID)
	assert.Equal(t, "New offer", got.Title)
}

func TestFanoutPublishErrorIsSwallowed(t *testing.T) {
	pub := &chanPublisher{msgs: make(chan Message, 1), err: errors.New("broker down")}
	f := NewNotificationFanout(pub, "t")

	assert.NotPanics(t, func() { f.Handle(&notification.Notification{ID: "n1", UserID: "u1"}) })
	receive(t, pub.msgs)
}

func TestFanoutNoops(t *testing.T) {
	var nilFanout *NotificationFanout
	assert.NotPanics(t, func() { nilFanout.Handle(&notification.Notification{ID: "n1"}) })
	assert.NotPanics(t, func() { NewNotificationFanout(nil, "t").Handle(&notification.Notification{ID: "n1"}) })

	pub := &chanPublisher{msgs: make(chan Message, 1)}
	NewNotificationFanout(pub, "t").Handle(nil)
	select {
	case <-pub.msgs:
		t.Fatal("nil notification must not be published")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerFunc(t *testing.T) {
	var seen string
	h := HandlerFunc(func(_ context.Context, msg Message) error {
		seen = msg.Topic
		return nil
	})
	require.NoError(t, h.Handle(context.Background(), Message{Topic: "x"}))
	assert.Equal(t, "x", seen)
}
