package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"DeskPilot/internal/modules/assistant/application/service"
	"DeskPilot/internal/modules/assistant/domain/assistant"
	"DeskPilot/internal/modules/assistant/infrastructure/eventbus"
	"DeskPilot/pkg/util/myjwt"
	"DeskPilot/pkg/ws"
	"DeskPilot/pkg/zlog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 客户端上行帧类型
const (
	inboundNotification = "notification"
	inboundInput        = "input"

	frameTurnContext = "assistant_context"
)

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type inputPayload struct {
	Text    string                 `json:"text"`
	Context *assistant.TurnContext `json:"context,omitempty"`
}

// WsHandler 助手实时通道：下行推送通知/导航/回复，上行接收通知事件和用户输入
type WsHandler struct {
	hub    *ws.Hub
	bus    *eventbus.Bus
	kernel service.KernelService
	sink   assistant.MessageSink
}

func NewWsHandler(hub *ws.Hub, bus *eventbus.Bus, kernel service.KernelService, sink assistant.MessageSink) *WsHandler {
	return &WsHandler{hub: hub, bus: bus, kernel: kernel, sink: sink}
}

// Connect 路由: GET /wss?token=<JWT>
//
// 浏览器原生 WebSocket 不能带自定义 Header，token 放在查询参数里并在这里手动校验
func (h *WsHandler) Connect(c *gin.Context) {
	userID, ok := h.authenticate(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Error("ws upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(userID, conn)
	h.hub.Register(client)
	go client.WritePump()
	go func() {
		defer h.hub.Unregister(client)
		client.ReadPump(func(data []byte) {
			h.onFrame(userID, data)
		})
	}()
}

func (h *WsHandler) authenticate(c *gin.Context) (string, bool) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if token != "" {
		claims, err := myjwt.ParseToken(token)
		if err != nil || claims.UserID == "" {
			return "", false
		}
		return claims.UserID, true
	}
	if myjwt.Disabled() {
		userID := strings.TrimSpace(c.Query("user_id"))
		return userID, userID != ""
	}
	return "", false
}

func (h *WsHandler) onFrame(userID string, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		zlog.Warn("ws frame decode failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	switch frame.Type {
	case inboundNotification:
		raw := map[string]interface{}{}
		if err := json.Unmarshal(frame.Payload, &raw); err != nil {
			zlog.Warn("ws notification payload invalid", zap.String("user_id", userID), zap.Error(err))
			return
		}
		// 连接只能给自己投递通知
		service.AssignIncomingOwner(raw, userID)
		h.bus.Incoming.Publish(raw)
	case inboundInput:
		var in inputPayload
		if err := json.Unmarshal(frame.Payload, &in); err != nil {
			zlog.Warn("ws input payload invalid", zap.String("user_id", userID), zap.Error(err))
			return
		}
		tc := in.Context
		if tc == nil {
			tc = &assistant.TurnContext{}
		}
		if _, err := h.kernel.HandleUserInput(context.Background(), userID, in.Text, tc, h.sink); err != nil {
			zlog.Warn("ws input rejected", zap.String("user_id", userID), zap.Error(err))
			return
		}
		// 回传本轮上下文，前端下一轮原样带回
		_ = h.hub.Push(userID, frameTurnContext, tc)
	default:
		zlog.Debug("ws frame ignored", zap.String("type", frame.Type))
	}
}
