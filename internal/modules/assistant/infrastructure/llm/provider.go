package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"DeskPilot/internal/config"

	arkModel "github.com/cloudwego/eino-ext/components/model/ark"
	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// ErrNotConfigured 未配置兜底模型，助手只使用静态回复
var ErrNotConfigured = fmt.Errorf("chat model provider not configured")

type ChatModelMeta struct {
	Provider string
	Model    string
}

// firstNonEmpty 配置优先，其次环境变量
func firstNonEmpty(value, env string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(env))
}

func providerTimeout(conf config.AIChatModelConfig) time.Duration {
	if conf.TimeoutSeconds > 0 {
		return time.Duration(conf.TimeoutSeconds) * time.Second
	}
	return 2 * time.Minute
}

// NewChatModelFromConfig 按 provider 创建 eino 聊天模型，支持 openai 与 ark
func NewChatModelFromConfig(ctx context.Context, conf *config.Config) (model.BaseChatModel, ChatModelMeta, error) {
	if conf == nil {
		return nil, ChatModelMeta{}, fmt.Errorf("nil config")
	}
	cm := conf.AIConfig.ChatModel
	provider := strings.ToLower(strings.TrimSpace(cm.Provider))

	switch provider {
	case "", "disabled", "none":
		return nil, ChatModelMeta{}, ErrNotConfigured
	case "openai":
		return newOpenAI(ctx, cm)
	case "ark":
		return newArk(ctx, cm)
	default:
		return nil, ChatModelMeta{}, fmt.Errorf("unknown chat model provider: %s", provider)
	}
}

func newOpenAI(ctx context.Context, cm config.AIChatModelConfig) (model.BaseChatModel, ChatModelMeta, error) {
	apiKey := firstNonEmpty(cm.APIKey, "OPENAI_API_KEY")
	modelName := firstNonEmpty(cm.Model, "OPENAI_MODEL")
	if apiKey == "" || modelName == "" {
		return nil, ChatModelMeta{}, fmt.Errorf("openai chat model missing apiKey/model")
	}
	chat, err := openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
		APIKey:     apiKey,
		Model:      modelName,
		BaseURL:    firstNonEmpty(cm.BaseURL, "OPENAI_BASE_URL"),
		ByAzure:    cm.ByAzure,
		APIVersion: strings.TrimSpace(cm.AzureAPIVersion),
		Timeout:    providerTimeout(cm),
	})
	if err != nil {
		return nil, ChatModelMeta{}, fmt.Errorf("create openai chat model: %w", err)
	}
	return chat, ChatModelMeta{Provider: "openai", Model: modelName}, nil
}

func newArk(ctx context.Context, cm config.AIChatModelConfig) (model.BaseChatModel, ChatModelMeta, error) {
	apiKey := firstNonEmpty(cm.APIKey, "ARK_API_KEY")
	accessKey := firstNonEmpty(cm.AccessKey, "ARK_ACCESS_KEY")
	secretKey := firstNonEmpty(cm.SecretKey, "ARK_SECRET_KEY")
	modelName := firstNonEmpty(cm.Model, "ARK_MODEL_ID")
	if apiKey == "" && (accessKey == "" || secretKey == "") {
		return nil, ChatModelMeta{}, fmt.Errorf("ark chat model missing apiKey or accessKey/secretKey")
	}
	if modelName == "" {
		return nil, ChatModelMeta{}, fmt.Errorf("ark chat model missing model")
	}

	timeout := providerTimeout(cm)
	retryTimes := 2
	if cm.RetryTimes > 0 {
		retryTimes = cm.RetryTimes
	}
	chat, err := arkModel.NewChatModel(ctx, &arkModel.ChatModelConfig{
		APIKey:     apiKey,
		AccessKey:  accessKey,
		SecretKey:  secretKey,
		Model:      modelName,
		BaseURL:    firstNonEmpty(cm.BaseURL, "ARK_BASE_URL"),
		Region:     firstNonEmpty(cm.Region, "ARK_REGION"),
		Timeout:    &timeout,
		RetryTimes: &retryTimes,
	})
	if err != nil {
		return nil, ChatModelMeta{}, fmt.Errorf("create ark chat model: %w", err)
	}
	return chat, ChatModelMeta{Provider: "ark", Model: modelName}, nil
}
