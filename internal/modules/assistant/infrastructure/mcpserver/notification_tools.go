package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"DeskPilot/internal/modules/assistant/application/service"
	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/pkg/zlog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// NotificationTools 通过 MCP 暴露通知管道，供外部 Agent 查询和创建通知
type NotificationTools struct {
	svc service.NotificationService
}

type callerKey struct{}

// WithCaller 记录已认证的调用方；存在时工具只作用于该用户，忽略参数里的 userId
func WithCaller(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerKey{}, userID)
}

// CallerFrom 取出 WithCaller 记录的用户
func CallerFrom(ctx context.Context) (string, bool) {
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller, caller != ""
}

func targetUser(ctx context.Context, request mcp.CallToolRequest) string {
	if caller, ok := CallerFrom(ctx); ok {
		return caller
	}
	return request.GetString("userId", "")
}

func NewNotificationTools(svc service.NotificationService) *NotificationTools {
	return &NotificationTools{svc: svc}
}

// NewServer 创建 MCP Server 并注册通知工具
func NewServer(name, version string, svc service.NotificationService) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(true))
	NewNotificationTools(svc).RegisterTools(s)
	return s
}

// NewHTTPHandler Streamable HTTP 传输，挂到 gin 的 /mcp
func NewHTTPHandler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s)
}

func (h *NotificationTools) RegisterTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("list_notifications",
		mcp.WithDescription("List a user's notifications, newest first."),
		mcp.WithString("userId", mcp.Description("owner of the notifications, defaults to the caller")),
		mcp.WithBoolean("unreadOnly", mcp.Description("only unread notifications")),
		mcp.WithString("category", mcp.Description("filter by category")),
		mcp.WithString("source", mcp.Description("filter by source")),
	), h.handleList)

	s.AddTool(mcp.NewTool("count_unread_notifications",
		mcp.WithDescription("Count a user's unread notifications."),
		mcp.WithString("userId", mcp.Description("owner of the notifications, defaults to the caller")),
	), h.handleCountUnread)

	s.AddTool(mcp.NewTool("mark_notification_read",
		mcp.WithDescription("Mark one notification as read."),
		mcp.WithString("id", mcp.Required(), mcp.Description("notification id")),
		mcp.WithString("userId", mcp.Description("owner of the notification, defaults to the caller")),
	), h.handleMarkRead)

	s.AddTool(mcp.NewTool("create_notification",
		mcp.WithDescription("Create a notification for a user. Duplicate ids are ignored."),
		mcp.WithString("userId", mcp.Description("recipient, defaults to the caller")),
		mcp.WithString("category", mcp.Required(), mcp.Description("customer, appointment, property, platform, social, business_card, analytics, request, offer or system")),
		mcp.WithString("type", mcp.Required(), mcp.Description("event type, e.g. customer_created")),
		mcp.WithString("title", mcp.Description("short title")),
		mcp.WithString("message", mcp.Description("body text")),
		mcp.WithString("severity", mcp.Description("info, warning or critical")),
		mcp.WithString("targetId", mcp.Description("related entity id")),
	), h.handleCreate)
}

func (h *NotificationTools) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := targetUser(ctx, request)
	if userID == "" {
		return mcp.NewToolResultError("userId is required"), nil
	}
	list := h.svc.List(ctx, notification.Filter{
		UserID:     userID,
		UnreadOnly: request.GetBool("unreadOnly", false),
		Category:   notification.Category(request.GetString("category", "")),
		Source:     request.GetString("source", ""),
	})
	return jsonResult(list)
}

func (h *NotificationTools) handleCountUnread(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := targetUser(ctx, request)
	if userID == "" {
		return mcp.NewToolResultError("userId is required"), nil
	}
	return jsonResult(map[string]int{"unread": h.svc.CountUnread(ctx, userID)})
}

func (h *NotificationTools) handleMarkRead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	userID := targetUser(ctx, request)
	if userID == "" {
		return mcp.NewToolResultError("userId is required"), nil
	}
	if !h.svc.MarkRead(ctx, userID, id, true) {
		return mcp.NewToolResultError("notification not found"), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (h *NotificationTools) handleCreate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in := service.AINotificationInput{
		UserID:   targetUser(ctx, request),
		Source:   "mcp",
		Category: notification.Category(request.GetString("category", "")),
		Type:     request.GetString("type", ""),
		TargetID: request.GetString("targetId", ""),
		Severity: request.GetString("severity", ""),
		Payload:  map[string]interface{}{},
	}
	if title := request.GetString("title", ""); title != "" {
		in.Payload["title"] = title
	}
	if message := request.GetString("message", ""); message != "" {
		in.Payload["message"] = message
	}
	n, err := h.svc.CreateAINotification(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	zlog.Info("mcp created notification", zap.String("id", n.ID), zap.String("user_id", n.UserID))
	return jsonResult(n)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("marshal result failed: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
