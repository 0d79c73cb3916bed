package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"DeskPilot/internal/modules/assistant/infrastructure/mq"
	"DeskPilot/pkg/zlog"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// retryBackoff broker 不可用时两次 Consume 之间的等待
const retryBackoff = 2 * time.Second

type ConsumerConfig struct {
	Config
	GroupID string
	Topics  []string
}

type saramaConsumer struct {
	cg     sarama.ConsumerGroup
	topics []string
}

func NewConsumer(cfg ConsumerConfig) (mq.Consumer, error) {
	brokers, err := cfg.brokers()
	if err != nil {
		return nil, err
	}
	groupID := strings.TrimSpace(cfg.GroupID)
	if groupID == "" {
		return nil, errors.New("kafka consumer group id is empty")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka topics is empty")
	}

	sc := cfg.sarama()
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Group.Rebalance.Timeout = 30 * time.Second
	sc.Consumer.Group.Session.Timeout = 30 * time.Second

	cg, err := sarama.NewConsumerGroup(brokers, groupID, sc)
	if err != nil {
		return nil, err
	}
	return &saramaConsumer{cg: cg, topics: cfg.Topics}, nil
}

// Run 阻塞到 ctx 取消或 consumer 关闭；Consume 出错时退避后重试
func (c *saramaConsumer) Run(ctx context.Context, handler mq.Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	h := &claimHandler{h: handler}
	for {
		err := c.cg.Consume(ctx, c.topics, h)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			zlog.Warn("kafka consume failed, retrying", zap.Strings("topics", c.topics), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
	}
}

func (c *saramaConsumer) Close() error {
	if c == nil {
		return nil
	}
	return c.cg.Close()
}

type claimHandler struct {
	h mq.Handler
}

func (claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 每条消息处理后都提交位点；失败的事件只记日志，不重投
func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for m := range claim.Messages() {
		if err := deliver(sess.Context(), h.h, m); err != nil {
			zlog.Warn("kafka event skipped",
				zap.String("topic", m.Topic),
				zap.Int32("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
		sess.MarkMessage(m, "")
	}
	return nil
}

// deliver 把 panic 转成错误，坏消息不会卡住整个分区
func deliver(ctx context.Context, h mq.Handler, m *sarama.ConsumerMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, consumerMessage(m))
}

func consumerMessage(m *sarama.ConsumerMessage) mq.Message {
	msg := mq.Message{Topic: m.Topic, Key: m.Key, Value: m.Value}
	for _, hdr := range m.Headers {
		if hdr == nil || len(hdr.Key) == 0 {
			continue
		}
		if msg.Headers == nil {
			msg.Headers = make(map[string]string, len(m.Headers))
		}
		msg.Headers[string(hdr.Key)] = string(hdr.Value)
	}
	return msg
}
