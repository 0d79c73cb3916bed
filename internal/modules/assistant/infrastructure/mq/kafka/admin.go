package kafka

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"DeskPilot/pkg/zlog"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// TopicSpec 启动时需要保证存在的主题
type TopicSpec struct {
	Name       string
	Partitions int32
	Retention  time.Duration
}

func (s TopicSpec) detail() *sarama.TopicDetail {
	partitions := s.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	td := &sarama.TopicDetail{NumPartitions: partitions, ReplicationFactor: 1}
	if s.Retention > 0 {
		ms := strconv.FormatInt(s.Retention.Milliseconds(), 10)
		td.ConfigEntries = map[string]*string{"retention.ms": &ms}
	}
	return td
}

// EnsureTopics 只创建缺失的主题，已有主题的分区与保留期不做修改
func EnsureTopics(cfg Config, specs ...TopicSpec) error {
	brokers, err := cfg.brokers()
	if err != nil {
		return err
	}
	admin, err := sarama.NewClusterAdmin(brokers, cfg.sarama())
	if err != nil {
		return err
	}
	defer admin.Close()

	existing, err := admin.ListTopics()
	if err != nil {
		return err
	}
	for _, spec := range specs {
		spec.Name = strings.TrimSpace(spec.Name)
		if spec.Name == "" {
			continue
		}
		if _, ok := existing[spec.Name]; ok {
			continue
		}
		if err := admin.CreateTopic(spec.Name, spec.detail(), false); err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return err
		}
		zlog.Info("kafka topic created", zap.String("topic", spec.Name), zap.Int32("partitions", spec.detail().NumPartitions))
	}
	return nil
}
