package kafka

import (
	"errors"
	"strings"

	"github.com/IBM/sarama"
)

var errNoBrokers = errors.New("kafka brokers is empty")

// Config 生产者、消费者与 admin 共用的连接参数
type Config struct {
	Brokers  []string
	ClientID string
}

func (c Config) brokers() ([]string, error) {
	out := make([]string, 0, len(c.Brokers))
	for _, b := range c.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, errNoBrokers
	}
	return out, nil
}

func (c Config) sarama() *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = strings.TrimSpace(c.ClientID)
	if sc.ClientID == "" {
		sc.ClientID = "deskpilot"
	}
	return sc
}
