package http

import (
	"errors"
	"time"

	"DeskPilot/internal/modules/assistant/application/dto/request"
	"DeskPilot/internal/modules/assistant/application/dto/respond"
	"DeskPilot/internal/modules/assistant/application/service"
	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/pkg/back"
	"DeskPilot/pkg/xerr"
	"DeskPilot/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NotificationHandler 通知中心 HTTP Handler，读写都限定在当前登录用户名下
type NotificationHandler struct {
	svc service.NotificationService
}

func NewNotificationHandler(svc service.NotificationService) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

// List 路由: GET /notification/list?unreadOnly=&source=&category=
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list := h.svc.List(c.Request.Context(), notification.Filter{
		UserID:     userID,
		UnreadOnly: c.Query("unreadOnly") == "true",
		Source:     c.Query("source"),
		Category:   notification.Category(c.Query("category")),
	})
	back.Success(c, respond.NotificationListRespond{List: list, Total: len(list)})
}

// UnreadCount 路由: GET /notification/unreadCount
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	back.Success(c, respond.CountRespond{Count: h.svc.CountUnread(c.Request.Context(), userID)})
}

// MarkRead 路由: POST /notification/markRead
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req request.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		back.Fail(c, xerr.ErrParam)
		return
	}
	read := true
	if req.Read != nil {
		read = *req.Read
	}
	if !h.svc.MarkRead(c.Request.Context(), userID, req.ID, read) {
		back.Fail(c, xerr.ErrNotFound)
		return
	}
	back.Success(c, respond.MarkReadRespond{Found: true})
}

// MarkAllRead 路由: POST /notification/markAllRead
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	back.Success(c, respond.CountRespond{Count: h.svc.MarkAllRead(c.Request.Context(), userID)})
}

// Delete 路由: POST /notification/delete
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req request.NotificationIDRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		back.Fail(c, xerr.ErrParam)
		return
	}
	if !h.svc.Delete(c.Request.Context(), userID, req.ID) {
		back.Fail(c, xerr.ErrNotFound)
		return
	}
	back.Success(c, nil)
}

// DeleteRead 路由: POST /notification/deleteRead
func (h *NotificationHandler) DeleteRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	back.Success(c, respond.CountRespond{Count: h.svc.DeleteRead(c.Request.Context(), userID)})
}

// Analysis 路由: GET /notification/analysis
func (h *NotificationHandler) Analysis(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	back.Success(c, h.svc.Analyze(c.Request.Context(), userID))
}

// GetSettings 路由: GET /notification/settings
func (h *NotificationHandler) GetSettings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	back.Success(c, h.svc.GetSettings(c.Request.Context(), userID))
}

// UpdateSettings 路由: POST /notification/settings
func (h *NotificationHandler) UpdateSettings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req request.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Fail(c, xerr.ErrParam)
		return
	}
	saved, err := h.svc.UpdateSettings(c.Request.Context(), notification.Settings{
		UserID:     userID,
		Enabled:    req.Enabled,
		Categories: req.Categories,
		Sound:      req.Sound,
		Desktop:    req.Desktop,
	})
	if err != nil {
		zlog.Error("update notification settings failed", zap.String("user_id", userID), zap.Error(err))
	}
	back.Result(c, saved, err)
}

// Create 路由: POST /notification/create
func (h *NotificationHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req request.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Type == "" {
		back.Fail(c, xerr.ErrParam)
		return
	}
	n, err := h.svc.CreateAINotification(c.Request.Context(), service.AINotificationInput{
		ID:       req.ID,
		UserID:   userID,
		Source:   req.Source,
		Category: req.Category,
		Type:     req.Type,
		TargetID: req.TargetID,
		Payload:  req.Payload,
		Severity: req.Severity,
	})
	if errors.Is(err, service.ErrIDConflict) {
		back.Fail(c, xerr.ErrConflict.WithMessage("notification id already in use"))
		return
	}
	back.Result(c, n, err)
}

// PurgeExpired 路由: POST /notification/purgeExpired，以服务端时间为准
func (h *NotificationHandler) PurgeExpired(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	back.Success(c, respond.CountRespond{Count: h.svc.PurgeExpired(c.Request.Context(), userID, time.Now())})
}
