package http

import (
	"errors"
	"strings"

	"DeskPilot/internal/modules/assistant/application/dto/request"
	"DeskPilot/internal/modules/assistant/application/dto/respond"
	"DeskPilot/internal/modules/assistant/application/service"
	"DeskPilot/internal/modules/assistant/domain/assistant"
	"DeskPilot/pkg/back"
	"DeskPilot/pkg/xerr"
	"DeskPilot/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CtxUserIDKey 鉴权中间件写入的用户 id
const CtxUserIDKey = "user_id"

// AssistantHandler 助手对话 HTTP Handler
type AssistantHandler struct {
	kernel    service.KernelService
	memory    service.ContextMemoryService
	awareness service.AwarenessService
	sink      assistant.MessageSink
}

// NewAssistantHandler sink 可为 nil；非 nil 时每轮回复同时推送（例如 websocket）
func NewAssistantHandler(kernel service.KernelService, memory service.ContextMemoryService,
	awareness service.AwarenessService, sink assistant.MessageSink) *AssistantHandler {
	return &AssistantHandler{kernel: kernel, memory: memory, awareness: awareness, sink: sink}
}

func currentUser(c *gin.Context) (string, bool) {
	userID := strings.TrimSpace(c.GetString(CtxUserIDKey))
	if userID == "" {
		back.Fail(c, xerr.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// Input 处理一轮用户输入
//
// 路由: POST /assistant/input
// 请求体: AssistantInputRequest
// 响应体: AssistantInputRespond
func (h *AssistantHandler) Input(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req request.AssistantInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Warn("assistant input bind error", zap.Error(err))
		back.Fail(c, xerr.ErrParam)
		return
	}
	tc := req.Context
	if tc == nil {
		tc = &assistant.TurnContext{}
	}
	res, err := h.kernel.HandleUserInput(c.Request.Context(), userID, req.Text, tc, h.sink)
	if errors.Is(err, service.ErrEmptyInput) {
		back.Fail(c, xerr.ErrParam.WithMessage("text is required"))
		return
	}
	back.Result(c, respond.AssistantInputRespond{Result: res, Context: tc}, err)
}

// History 路由: GET /assistant/history
func (h *AssistantHandler) History(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	back.Success(c, respond.HistoryRespond{
		Turns:  h.memory.GetConversationHistory(ctx, userID),
		Recent: h.memory.GetRecentContext(ctx, userID),
	})
}

// Awareness 路由: GET /assistant/awareness
func (h *AssistantHandler) Awareness(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	back.Success(c, h.awareness.GetState(c.Request.Context(), userID))
}

// ClearAwareness 路由: DELETE /assistant/awareness，同时清空短期记忆
func (h *AssistantHandler) ClearAwareness(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	h.awareness.ClearContext(c.Request.Context(), userID)
	h.memory.Reset(c.Request.Context(), userID)
	back.Success(c, nil)
}
