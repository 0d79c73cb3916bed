package llm

import (
	"context"
	"strings"

	"DeskPilot/internal/modules/assistant/domain/memory"
	"DeskPilot/pkg/zlog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const (
	fallbackTemperature float32 = 0.7
	fallbackMaxTokens           = 500
	historyTurns                = 5
)

// Persona 兜底模型的系统提示词，固定人设、语气与职责范围
const Persona = "You are DeskPilot, the assistant inside a real-estate broker's dashboard. " +
	"Be brief, friendly and practical. You help with customers, appointments, listings, notifications and the archive. " +
	"You cannot perform actions yourself; suggest which dashboard page or command the user should try. " +
	"If a request is outside this scope, say so politely."

// FallbackClient 路由无法分类时调用外部模型；任何失败都返回空字符串
type FallbackClient struct {
	chatModel model.BaseChatModel
	persona   string
}

// NewFallbackClient chatModel 为 nil 时 Reply 恒返回空
func NewFallbackClient(chatModel model.BaseChatModel) *FallbackClient {
	return &FallbackClient{chatModel: chatModel, persona: Persona}
}

// BuildMessages 系统提示 + 最近 5 轮历史 + 当前输入
func (c *FallbackClient) BuildMessages(history []memory.Turn, text string) []*schema.Message {
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, &schema.Message{Role: schema.System, Content: c.persona})
	for _, t := range history {
		role := schema.User
		if t.Role == memory.RoleAssistant {
			role = schema.Assistant
		}
		msgs = append(msgs, &schema.Message{Role: role, Content: t.Text})
	}
	msgs = append(msgs, &schema.Message{Role: schema.User, Content: text})
	return msgs
}

func (c *FallbackClient) Reply(ctx context.Context, history []memory.Turn, text string) string {
	if c == nil || c.chatModel == nil {
		return ""
	}
	resp, err := c.chatModel.Generate(ctx, c.BuildMessages(history, text),
		model.WithTemperature(fallbackTemperature),
		model.WithMaxTokens(fallbackMaxTokens),
	)
	if err != nil {
		zlog.Warn("llm fallback failed", zap.Error(err))
		return ""
	}
	if resp == nil {
		return ""
	}
	return strings.TrimSpace(resp.Content)
}
