package config

import (
	"log"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName   string `toml:"appName"`
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	EnableTLS bool   `toml:"enableTLS"`
}

// StoreConfig 结构化存储配置，driver 为 sqlite（嵌入式，默认）或 mysql
type StoreConfig struct {
	Driver       string `toml:"driver"`
	SqlitePath   string `toml:"sqlitePath"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

// FlatStoreConfig 扁平 KV 兜底存储，redis 未配置时写本地文件
type FlatStoreConfig struct {
	Dir string `toml:"dir"`
}

type LogConfig struct {
	LogPath    string `toml:"logPath"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"maxSizeMB"`
	MaxBackups int    `toml:"maxBackups"`
	MaxAgeDays int    `toml:"maxAgeDays"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

type KafkaConfig struct {
	Brokers         []string `toml:"brokers"`
	ClientID        string   `toml:"clientID"`
	EventTopic      string   `toml:"eventTopic"`
	FanoutTopic     string   `toml:"fanoutTopic"`
	ConsumerGroupID string   `toml:"consumerGroupID"`
}

type AIChatModelConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type AIConfig struct {
	ChatModel AIChatModelConfig `toml:"chatModel"`
}

// NotificationConfig 通知管道参数
type NotificationConfig struct {
	MaxStored         int    `toml:"maxStored"`
	FlushDelayMs      int    `toml:"flushDelayMs"`
	ReadCacheTTLMs    int    `toml:"readCacheTTLMs"`
	EnforceSettings   bool   `toml:"enforceSettings"`
	ReminderCron      string `toml:"reminderCron"`
	ReminderLookahead int    `toml:"reminderLookaheadMinutes"`
}

// DomainAPIConfig 仪表盘业务接口（客户、日程、档案、远程通知）
type DomainAPIConfig struct {
	BaseURL        string `toml:"baseURL"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
}

// MCPConfig MCP 配置
type MCPConfig struct {
	Enabled bool   `toml:"enabled"`
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

type RedisConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"poolSize"`
	MinIdleConns int    `toml:"minIdleConns"`
}

type Config struct {
	MainConfig         `toml:"mainConfig"`
	StoreConfig        `toml:"storeConfig"`
	FlatStoreConfig    `toml:"flatStoreConfig"`
	JwtConfig          `toml:"jwtConfig"`
	KafkaConfig        `toml:"kafkaConfig"`
	AIConfig           `toml:"aiConfig"`
	LogConfig          `toml:"logConfig"`
	NotificationConfig `toml:"notificationConfig"`
	DomainAPIConfig    `toml:"domainAPIConfig"`
	MCPConfig          `toml:"mcpConfig"`
	RedisConfig        `toml:"redisConfig"`
}

var config *Config

// DefaultConfigPath 可以用环境变量 DESKPILOT_CONFIG 覆盖
const DefaultConfigPath = "configs/config_local.toml"

// Default 返回全部字段带默认值的配置
func Default() *Config {
	return &Config{
		MainConfig:      MainConfig{AppName: "deskpilot", Host: "0.0.0.0", Port: 8000},
		StoreConfig:     StoreConfig{Driver: "sqlite", SqlitePath: "data/deskpilot.db"},
		FlatStoreConfig: FlatStoreConfig{Dir: "data/kv"},
		JwtConfig:       JwtConfig{ExpireHours: 24},
		KafkaConfig: KafkaConfig{
			ClientID:        "deskpilot",
			EventTopic:      "dashboard.domain-events",
			FanoutTopic:     "dashboard.notifications",
			ConsumerGroupID: "deskpilot-notifications",
		},
		LogConfig: LogConfig{Level: "info"},
		NotificationConfig: NotificationConfig{
			MaxStored:         1000,
			FlushDelayMs:      300,
			ReadCacheTTLMs:    1000,
			ReminderCron:      "*/5 * * * *",
			ReminderLookahead: 60,
		},
		DomainAPIConfig: DomainAPIConfig{TimeoutSeconds: 10},
		MCPConfig:       MCPConfig{Enabled: true, Name: "deskpilot-notifications", Version: "1.0.0"},
	}
}

// Load 从指定路径加载配置，缺失字段沿用默认值
func Load(path string) (*Config, error) {
	conf := Default()
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return conf, err
	}
	conf.normalize()
	return conf, nil
}

func (c *Config) normalize() {
	def := Default()
	c.StoreConfig.Driver = strings.ToLower(strings.TrimSpace(c.StoreConfig.Driver))
	if c.StoreConfig.Driver == "" {
		c.StoreConfig.Driver = def.StoreConfig.Driver
	}
	if c.NotificationConfig.MaxStored <= 0 {
		c.NotificationConfig.MaxStored = def.NotificationConfig.MaxStored
	}
	if c.NotificationConfig.FlushDelayMs <= 0 {
		c.NotificationConfig.FlushDelayMs = def.NotificationConfig.FlushDelayMs
	}
	if c.NotificationConfig.ReadCacheTTLMs <= 0 {
		c.NotificationConfig.ReadCacheTTLMs = def.NotificationConfig.ReadCacheTTLMs
	}
	if c.NotificationConfig.ReminderLookahead <= 0 {
		c.NotificationConfig.ReminderLookahead = def.NotificationConfig.ReminderLookahead
	}
}

func LoadConfig() error {
	configPath := DefaultConfigPath
	if p := strings.TrimSpace(os.Getenv("DESKPILOT_CONFIG")); p != "" {
		configPath = p
	}
	conf, err := Load(configPath)
	config = conf
	if err != nil {
		log.Printf("加载配置文件失败: %v, 尝试使用默认设置", err)
		return err
	}
	return nil
}

func GetConfig() *Config {
	if config == nil {
		_ = LoadConfig()
	}
	return config
}

// SetConfig 直接注入配置（测试用）
func SetConfig(c *Config) {
	config = c
}
