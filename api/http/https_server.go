package http

import (
	"net/http"

	"DeskPilot/internal/config"
	jwtMiddleware "DeskPilot/internal/middleware/jwt"
	assistantHandler "DeskPilot/internal/modules/assistant/interface/http"
	"DeskPilot/internal/modules/assistant/infrastructure/mcpserver"
	wsHandler "DeskPilot/internal/modules/assistant/interface/websocket"
	"DeskPilot/pkg/ssl"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers 路由需要的全部 Handler；MCP 为 nil 时不挂载 /mcp，挂载时与其他业务路由一样需要登录
type Handlers struct {
	Assistant    *assistantHandler.AssistantHandler
	Notification *assistantHandler.NotificationHandler
	Ws           *wsHandler.WsHandler
	MCP          http.Handler
}

// NewRouter 组装 gin 引擎、中间件与路由表
func NewRouter(conf *config.Config, h Handlers) *gin.Engine {
	ge := gin.New()
	ge.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", jwtMiddleware.HeaderUserID}
	ge.Use(cors.New(corsConfig))
	ge.Use(ssl.Secure(conf.MainConfig.EnableTLS, conf.MainConfig.Host, conf.MainConfig.Port))

	ge.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"app": conf.MainConfig.AppName, "status": "ok"})
	})
	if h.Ws != nil {
		ge.GET("/wss", h.Ws.Connect)
	}

	authed := ge.Group("/")
	authed.Use(jwtMiddleware.Auth())

	if h.MCP != nil {
		authed.Any("/mcp", mcpCaller(h.MCP))
	}
	if h.Assistant != nil {
		authed.POST("/assistant/input", h.Assistant.Input)
		authed.GET("/assistant/history", h.Assistant.History)
		authed.GET("/assistant/awareness", h.Assistant.Awareness)
		authed.DELETE("/assistant/awareness", h.Assistant.ClearAwareness)
	}
	if h.Notification != nil {
		authed.GET("/notification/list", h.Notification.List)
		authed.GET("/notification/unreadCount", h.Notification.UnreadCount)
		authed.POST("/notification/markRead", h.Notification.MarkRead)
		authed.POST("/notification/markAllRead", h.Notification.MarkAllRead)
		authed.POST("/notification/delete", h.Notification.Delete)
		authed.POST("/notification/deleteRead", h.Notification.DeleteRead)
		authed.GET("/notification/analysis", h.Notification.Analysis)
		authed.GET("/notification/settings", h.Notification.GetSettings)
		authed.POST("/notification/settings", h.Notification.UpdateSettings)
		authed.POST("/notification/create", h.Notification.Create)
		authed.POST("/notification/purgeExpired", h.Notification.PurgeExpired)
	}
	return ge
}

// mcpCaller 把登录用户带进 MCP 请求上下文
func mcpCaller(h http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := mcpserver.WithCaller(c.Request.Context(), c.GetString(jwtMiddleware.CtxUserID))
		h.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
	}
}
