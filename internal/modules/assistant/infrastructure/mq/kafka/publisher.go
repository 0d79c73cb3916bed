package kafka

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"DeskPilot/internal/modules/assistant/infrastructure/mq"

	"github.com/IBM/sarama"
)

type saramaPublisher struct {
	p sarama.SyncProducer
}

// NewPublisher 按 key（用户 id）哈希分区，同一用户的通知在分区内有序
func NewPublisher(cfg Config) (mq.Publisher, error) {
	brokers, err := cfg.brokers()
	if err != nil {
		return nil, err
	}
	sc := cfg.sarama()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Retry.Max = 3
	sc.Producer.Retry.Backoff = 100 * time.Millisecond
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewSyncProducer(brokers, sc)
	if err != nil {
		return nil, err
	}
	return newPublisher(p), nil
}

func newPublisher(p sarama.SyncProducer) *saramaPublisher {
	return &saramaPublisher{p: p}
}

// producerMessage 头按 key 排序，空 key 丢弃
func producerMessage(msg mq.Message) (*sarama.ProducerMessage, error) {
	topic := strings.TrimSpace(msg.Topic)
	if topic == "" {
		return nil, errors.New("kafka topic is empty")
	}
	pm := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(msg.Value)}
	if len(msg.Key) > 0 {
		pm.Key = sarama.ByteEncoder(msg.Key)
	}
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(strings.TrimSpace(k)), Value: []byte(msg.Headers[k])})
	}
	return pm, nil
}

func (s *saramaPublisher) Publish(ctx context.Context, msg mq.Message) (mq.PublishResult, error) {
	if err := ctx.Err(); err != nil {
		return mq.PublishResult{}, err
	}
	pm, err := producerMessage(msg)
	if err != nil {
		return mq.PublishResult{}, err
	}
	partition, offset, err := s.p.SendMessage(pm)
	if err != nil {
		return mq.PublishResult{}, err
	}
	return mq.PublishResult{Partition: partition, Offset: offset}, nil
}

func (s *saramaPublisher) Close() error {
	if s == nil || s.p == nil {
		return nil
	}
	return s.p.Close()
}
